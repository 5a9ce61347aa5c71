// @title           Report Gin API
// @version         1.0
// @description     Report generation task coordinator backed by an external generation engine
// @BasePath        /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token from Keycloak
package main

import "github.com/mautops/report-gin/cmd"

func main() {
	cmd.Execute()
}
