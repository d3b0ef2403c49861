/*
Package network resolves how the daemon reaches each sandbox REPL.

Two address strategies exist. The container strategy assumes the daemon
shares a user-defined Docker network with the sandboxes (typical under
compose) and dials each one by container name on the fixed REPL port:

	http://sbox-<session>:9000

The host strategy publishes each REPL on an ephemeral host port and dials
a gateway hostname in front of it:

	http://<gateway>:<published-port>

# Gateway Detection

Which gateway works depends on where the daemon runs, so the resolver
detects it once per process:

	explicit HOST_GATEWAY (non-default) ──────────────► use it
	/proc/sys/kernel/osrelease contains "microsoft" ──► localhost   (WSL2)
	/.dockerenv exists ───────────────────────────────► host.docker.internal
	host.docker.internal resolves in DNS ─────────────► host.docker.internal
	otherwise ────────────────────────────────────────► localhost

WSL2 is the surprising case: Docker Desktop publishes container ports on
the Windows side, and WSL2 forwards localhost to them, while
host.docker.internal may resolve to an address WSL2 cannot route.

# Usage

	res := network.NewResolver(cfg)
	base := res.ReplBaseURL(ctx, session.ContainerName, session.HostPort)
	resp, err := replClient.Exec(ctx, base, code, timeout)
*/
package network
