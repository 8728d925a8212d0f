/*
Package resilience provides a circuit breaker for calls to the bridge host.

A client opening bridges for many pages shares one breaker, so an
unreachable host fails every later registration fast instead of each one
waiting out its own retries.

# Usage

	breaker := resilience.New("bridge-host", resilience.Settings{
		Threshold: 3,
		Cooldown:  5 * time.Second,
	})

	resp, err := resilience.Do(ctx, breaker, func(ctx context.Context) (*resty.Response, error) {
		return req.SetContext(ctx).Post(url)
	})

# States

	Closed --[threshold failures]-> Open --[cooldown]-> Half-Open --[probe ok]-> Closed
	                                  ^                      |
	                                  +----[probe failed]----+
*/
package resilience
