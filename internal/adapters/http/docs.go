package http

import (
	"os"
	"sync"

	"github.com/gofiber/fiber/v2"
)

const docsPage = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>fieldtrack API</title>
  <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui.css">
</head>
<body style="margin:0">
  <div id="docs"></div>
  <script src="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({
      url: '/docs/openapi.yaml',
      dom_id: '#docs',
      docExpansion: 'list',
      tryItOutEnabled: false,
      supportedSubmitMethods: ['get'],
    });
  </script>
</body>
</html>`

// OpenAPIPath is read relative to the working directory on first request.
var OpenAPIPath = "api/openapi.yaml"

// SetupDocs serves a Swagger UI page at /docs backed by /docs/openapi.yaml.
// A missing document is reported as 404 on every request until the process restarts.
func SetupDocs(app *fiber.App) {
	var (
		once sync.Once
		doc  []byte
		err  error
	)
	load := func() ([]byte, error) {
		once.Do(func() { doc, err = os.ReadFile(OpenAPIPath) })
		return doc, err
	}

	app.Get("/docs", func(c *fiber.Ctx) error {
		c.Type("html", "utf-8")
		return c.SendString(docsPage)
	})
	app.Get("/docs/openapi.yaml", func(c *fiber.Ctx) error {
		data, err := load()
		if err != nil {
			return errNotFound(c, "api document not available")
		}
		c.Set(fiber.HeaderContentType, "application/yaml")
		return c.Send(data)
	})
}
