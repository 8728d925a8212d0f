/*
Package intercept serves the route.* methods on the host.

A Controller installs one catch-all route handler on the page, or on its
browser context when configured to, while the referencing side has routes
registered. Each intercepted request gets a fresh route id and is sent to
the referencing side with route.request; the route waits in the controller
until route.continue, route.abort or route.fulfill names its id.

Requests carrying the bypass header with this session's bridge id skip the
referencing side: the header is removed and the request continues to the
network. If route.request cannot be delivered the request also continues,
so a broken socket never leaves a page request hanging.
*/
package intercept
