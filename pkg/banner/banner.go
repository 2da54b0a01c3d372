package banner

import "fmt"

const banner = `
███████╗██╗  ██╗██╗   ██╗███╗   ███╗██╗██████╗ ██████╗  ██████╗ ██████╗
██╔════╝██║ ██╔╝╚██╗ ██╔╝████╗ ████║██║██╔══██╗██╔══██╗██╔═══██╗██╔══██╗
███████╗█████╔╝  ╚████╔╝ ██╔████╔██║██║██████╔╝██████╔╝██║   ██║██████╔╝
╚════██║██╔═██╗   ╚██╔╝  ██║╚██╔╝██║██║██╔══██╗██╔══██╗██║   ██║██╔══██╗
███████║██║  ██╗   ██║   ██║ ╚═╝ ██║██║██║  ██║██║  ██║╚██████╔╝██║  ██║
╚══════╝╚═╝  ╚═╝   ╚═╝   ╚═╝     ╚═╝╚═╝╚═╝  ╚═╝╚═╝  ╚═╝ ╚═════╝ ╚═╝  ╚═╝
`

// Print writes the startup banner and a short runtime summary to stdout.
func Print(addr, dbPath, identity, version string) {
	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:   %s\n", addr)
	fmt.Printf("Cache:    %s\n", dbPath)
	if identity != "" {
		fmt.Printf("Account:  %s\n", identity)
	}
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("GET  /v1/page?stream=<name>&limit=<n> - Read a page of a stream")
	fmt.Println("GET  /v1/entity?kind=<kind>&key=<owner:local> - Read a cached entity")
	fmt.Println("GET  /v1/thread?post=<owner:local> - Walk a post's reply ancestors")
	fmt.Println("GET  /v1/notifications/page - Read a page of notifications")
	fmt.Println("GET  /v1/notifications/unread - Unread notification count")
	fmt.Println("POST /v1/notifications/read - Mark all notifications read")
	fmt.Println("POST /v1/tags - Tag a post (JSON: post, label)")
	fmt.Println("POST /v1/status - Update the account status")
	fmt.Println("\n== Examples ===================================================")
	fmt.Printf("curl 'http://localhost%s/v1/page?stream=timeline&limit=25'\n", addr)
	fmt.Printf("curl -X POST 'http://localhost%s/v1/tags' -d '{\"post\": \"did.plc.abc:3k2\", \"label\": \"golang\"}'\n", addr)
}
