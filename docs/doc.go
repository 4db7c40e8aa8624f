// Package docs provides generated OpenAPI documentation.
//
// Docpipe API
//
//	@title			Docpipe API
//	@version		1.0
//	@description	Durable document processing pipeline API for submitting documents and tracking jobs.
//	@termsOfService	http://swagger.io/terms/
//
//	@contact.name	API Support
//	@contact.url	https://github.com/jackzampolin/docpipe
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host		localhost:8573
//	@BasePath	/
//
//	@schemes	http
package docs

//go:generate swag init -g ../cmd/docpipe/serve.go -o ./swagger --parseDependency --parseInternal
