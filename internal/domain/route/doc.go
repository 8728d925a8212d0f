/*
Package route is the referencing side of request interception.

An Engine keeps an ordered list of registrations, newest first. When the
host reports an intercepted request, every registration whose matcher
accepts the URL is offered the request in turn. A handler resolves the
request with Route.Continue, Route.Abort or Route.Fulfill, or passes it on
with Route.Fallback, optionally overriding request fields for the handlers
after it. A request nobody resolves is continued with the accumulated
overrides.

Interception on the host is switched on when the first registration is
added and off when the last one is removed. Only those transitions are sent.

A handler returning an error does not stop dispatch: the request is aborted
as a safety net and the error goes to Config.OnError.
*/
package route
