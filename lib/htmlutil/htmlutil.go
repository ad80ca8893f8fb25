package htmlutil

import (
	"bytes"
	"iptu-backend/lib/textutil"
	"strings"
	"unicode"

	"golang.org/x/net/html"
)

// GetText returns the concatenated text nodes below node, script and style
// contents are skipped.
func GetText(node *html.Node) string {
	var buffer bytes.Buffer
	getTextRecursive(node, &buffer)
	return buffer.String()
}

func getTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		buffer.WriteString(node.Data)
		return
	}
	if node.Type == html.ElementNode && (node.Data == "script" || node.Data == "style") {
		return
	}
	child := node.FirstChild
	for child != nil {
		getTextRecursive(child, buffer)
		// cells rendered side by side must not glue their text together
		if child.Type == html.ElementNode {
			buffer.WriteByte(' ')
		}
		child = child.NextSibling
	}
}

func removeNonPrintable(s string) string {
	newStr := strings.Builder{}
	for _, c := range s {
		if unicode.IsPrint(c) || unicode.IsSpace(c) {
			newStr.WriteRune(c)
		}
	}
	return newStr.String()
}

// VisibleText is GetText cleaned up the way it would read on screen.
func VisibleText(node *html.Node) string {
	return textutil.CollapseSpace(removeNonPrintable(GetText(node)))
}
