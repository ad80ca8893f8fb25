package htmlutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

func TestVisibleText(t *testing.T) {
	doc, err := html.Parse(strings.NewReader(`<table><tr><td>2025</td><td>22/12/2025</td><td>R$&nbsp;198,30<script>var x = 1;</script></td></tr></table>`))
	require.NoError(t, err)
	require.Equal(t, "2025 22/12/2025 R$ 198,30", VisibleText(doc))
}
