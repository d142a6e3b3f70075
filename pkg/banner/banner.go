package banner

import (
	"fmt"

	"dialogd/pkg/config"
)

const banner = `
██████╗ ██╗ █████╗ ██╗      ██████╗  ██████╗ ██████╗
██╔══██╗██║██╔══██╗██║     ██╔═══██╗██╔════╝ ██╔══██╗
██║  ██║██║███████║██║     ██║   ██║██║  ███╗██║  ██║
██║  ██║██║██╔══██║██║     ██║   ██║██║   ██║██║  ██║
██████╔╝██║██║  ██║███████╗╚██████╔╝╚██████╔╝██████╔╝
╚═════╝ ╚═╝╚═╝  ╚═╝╚══════╝ ╚═════╝  ╚═════╝ ╚═════╝
`

// Print writes the startup banner plus the effective runtime settings.
func Print(cfg *config.Config, addr, dbPath, version string) {
	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:    %s\n", addr)
	fmt.Printf("DB Path:   %s\n", dbPath)
	if version != "" {
		fmt.Printf("Version:   %s\n", version)
	}
	if cfg != nil {
		fmt.Printf("Backend:   %s\n", cfg.Generation.BackendURL)
		fmt.Printf("Budget:    %d tokens, window %d messages\n", cfg.MaxTokens(), cfg.ContextSize())
		if len(cfg.Security.APIKeys.Backend) == 0 && !cfg.Security.APIKeys.AllowUnauth {
			fmt.Println("WARNING:   no backend API keys configured; all requests will be rejected")
		}
	}
	fmt.Println("\n== Examples ===================================================")
	fmt.Printf("curl -X POST 'http://localhost%s/v1/users' -d '{\"user_id\":\"u1\"}'\n", addr)
	fmt.Printf("curl -X POST 'http://localhost%s/v1/users/u1/context/generate' -d '{\"text\":\"hi\"}'\n", addr)
}
