package handlers

import (
	"fmt"
	"net/http"
)

// DocsHandler serves the OpenAPI documentation UI using Stoplight Elements.
// The page follows the system theme with a dark fallback.
type DocsHandler struct {
	title    string
	specPath string
}

// NewDocsHandler creates a new documentation handler.
func NewDocsHandler(title, specPath string) *DocsHandler {
	return &DocsHandler{title: title, specPath: specPath}
}

// ServeHTTP serves the documentation page.
func (h *DocsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	html := fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8" />
    <meta name="referrer" content="same-origin" />
    <meta name="viewport" content="width=device-width, initial-scale=1, shrink-to-fit=no" />
    <title>%s</title>
    <link href="https://unpkg.com/@stoplight/elements@8/styles.min.css" rel="stylesheet" />
    <script src="https://unpkg.com/@stoplight/elements@8/web-components.min.js" crossorigin="anonymous"></script>
    <style>
      html[data-theme="dark"] {
        color-scheme: dark;
      }
      html[data-theme="dark"] body {
        background-color: #1a1a2e;
      }
      html[data-theme="light"] {
        color-scheme: light;
      }
      html[data-theme="light"] body {
        background-color: #ffffff;
      }
    </style>
    <script>
      const prefersDark = window.matchMedia('(prefers-color-scheme: dark)').matches;
      document.documentElement.setAttribute('data-theme', prefersDark ? 'dark' : 'light');
      window.matchMedia('(prefers-color-scheme: dark)').addEventListener('change', e => {
        document.documentElement.setAttribute('data-theme', e.matches ? 'dark' : 'light');
      });
    </script>
  </head>
  <body style="height: 100vh; margin: 0;">
    <elements-api
      apiDescriptionUrl="%s"
      router="hash"
      layout="sidebar"
      tryItCredentialsPolicy="same-origin"
    />
  </body>
</html>`, h.title, h.specPath)

	w.Write([]byte(html))
}
