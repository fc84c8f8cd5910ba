package htmlscan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGeneratorTag(t *testing.T) {
	body := []byte(`<html><head><meta name="generator" content="WidgetCMS 6.4.2"></head></html>`)
	content, ok := GeneratorTag(body)
	assert.True(t, ok)
	assert.Equal(t, "WidgetCMS 6.4.2", content)
}

func TestGeneratorTag_Absent(t *testing.T) {
	_, ok := GeneratorTag([]byte(`<html></html>`))
	assert.False(t, ok)
}

func TestScan_CollectsReferences(t *testing.T) {
	body := []byte(`
<html>
<head>
<link rel="stylesheet" href="/css/main.css">
<script src="/js/app.js"></script>
</head>
<body><a href="/favicon.ico">icon</a></body>
</html>`)
	_, refs := Scan(body)

	var urls []string
	for _, r := range refs {
		urls = append(urls, r.URL)
	}
	assert.Contains(t, urls, "/css/main.css")
	assert.Contains(t, urls, "/js/app.js")
	assert.Contains(t, urls, "/favicon.ico")
}
