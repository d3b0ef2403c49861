/*
Package client is the Go client for the daemon's HTTP API, used by the
CLI subcommands and usable as a library.

Every daemon endpoint has a typed method; non-2xx responses surface the
server's JSON error message. Control calls carry a 10 second deadline;
Exec derives its deadline from the requested execution timeout so the
daemon reports timeouts, not the client.

# Usage

	c := client.NewClient("http://localhost:8000")

	result, err := c.Exec("conv-42", "print(1+1)", 30)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Print(result.Stdout)

	for _, a := range result.Artifacts {
		if a.URL != "" {
			c.Download(a.URL, filepath.Join("out", a.Name))
		}
	}

Sessions start implicitly on first Exec. ListSessions, GetSession and
StopSession manage them explicitly; StageDatasets and ListDatasets drive
the dataset pipeline; Export copies files from the container to the host
export directory.

# Downloads

Download streams a signed artifact URL to a local file, creating parent
directories as needed. Relative URLs (as returned when no public base
URL is configured) resolve against the client's base URL.
*/
package client
