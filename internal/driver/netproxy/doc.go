/*
Package netproxy is an in-process driver: pages are HTTP clients whose
requests can be intercepted.

Each Page and Worker hands out an *http.Client. While a route handler is
installed on the page (or on its context) every request made with that
client is passed to the handler, and the client blocks until the handler
continues, aborts or fulfills it. Page handlers take precedence over
context handlers; worker requests only see context handlers.

Example:

	browser := netproxy.NewBrowser(netproxy.Options{})
	ctx := browser.NewContext()
	page, _ := ctx.NewPage("tab-1", "https://app.test/")
	resp, err := page.Client().Get("https://app.test/api")
*/
package netproxy
