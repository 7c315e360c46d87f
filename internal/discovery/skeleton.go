package discovery

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// StructureHash fingerprints a page's DOM skeleton: element tags and class
// structure with all text stripped. Two fetches of the same layout hash
// identically even when listings, prices, and session tokens differ, which
// makes drift detection a cheap comparison instead of a rediscovery run.
func StructureHash(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		// Unparseable input still gets a stable fingerprint.
		sum := sha256.Sum256(body)
		return hex.EncodeToString(sum[:])
	}

	var sb strings.Builder
	for _, n := range doc.Nodes {
		writeSkeleton(&sb, n, 0)
	}

	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

// maxSkeletonDepth bounds the walk; layout drift shows up well above this
// depth and deeply nested widget trees only add noise.
const maxSkeletonDepth = 12

func writeSkeleton(sb *strings.Builder, n *html.Node, depth int) {
	if depth > maxSkeletonDepth {
		return
	}
	if n.Type == html.ElementNode {
		switch n.Data {
		case "script", "style", "noscript", "svg":
			return
		}
		sb.WriteString(strings.Repeat(">", depth))
		sb.WriteString(n.Data)
		if classes := classList(n); len(classes) > 0 {
			sb.WriteByte('.')
			sb.WriteString(strings.Join(classes, "."))
		}
		sb.WriteByte('\n')
		depth++
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeSkeleton(sb, c, depth)
	}
}

// classList returns the node's classes sorted, dropping ones that look like
// generated atomic/hashed names so CSS-in-JS rebuilds don't read as drift.
func classList(n *html.Node) []string {
	var classes []string
	for _, attr := range n.Attr {
		if attr.Key != "class" {
			continue
		}
		for _, c := range strings.Fields(attr.Val) {
			if looksGenerated(c) {
				continue
			}
			classes = append(classes, c)
		}
	}
	sort.Strings(classes)
	return classes
}

func looksGenerated(class string) bool {
	if len(class) < 6 {
		return false
	}
	digits := 0
	for _, r := range class {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	// Heavily numeric class names are almost always build artifacts.
	return digits*2 > len(class)
}
