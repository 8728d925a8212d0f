/*
Package handle implements remote handles on both sides of the bridge.

The owning side keeps a Registry: a target map from handle id to live value,
plus the script runtime used to evaluate function source against those
values. The referencing side holds Proxy values that name a target by id and
forward every operation over RPC.

Disposal:
  - Registry.Dispose of an unknown id is a no-op, but any later use of that
    id fails with ErrHandleNotFound.
  - Proxy.Dispose is idempotent and ignored for persistent proxies.
  - A proxy dropped without Dispose is released by a runtime cleanup. That
    path is best effort: it runs at an unspecified time and only logs
    failures.
*/
package handle
