package types

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/net/html"

	"github.com/d-kuro/crmclient/pkg/constants"
)

// maxMessageLength bounds messages lifted from non-JSON bodies.
const maxMessageLength = 512

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
	Errors     []ValidationError
	Body       []byte
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("API error: %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Message)
	}
	return fmt.Sprintf("API error: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// IsUnauthorized reports whether the server rejected the credential.
func (e *APIError) IsUnauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized
}

// NewAPIError builds an APIError from a failed response, lifting the most
// specific message available from the body.
func NewAPIError(resp *Response) *APIError {
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Body:       resp.Body,
	}

	var env Envelope[json.RawMessage]
	if len(resp.Body) > 0 && json.Unmarshal(resp.Body, &env) == nil {
		apiErr.Errors = env.Errors
		switch {
		case env.Error != "":
			apiErr.Message = env.Error
		case env.Message != "":
			apiErr.Message = env.Message
		}
		return apiErr
	}

	contentType := ""
	if resp.Header != nil {
		contentType = resp.Header.Get(constants.HeaderContentType)
	}
	text := string(resp.Body)
	if strings.Contains(contentType, constants.ContentTypeHTML) || strings.HasPrefix(strings.TrimSpace(text), "<") {
		text = ExtractTextFromHTML(text)
	}
	text = strings.TrimSpace(text)
	if len(text) > maxMessageLength {
		text = text[:maxMessageLength]
	}
	apiErr.Message = text
	return apiErr
}

// ExtractTextFromHTML extracts readable text from an HTML error page.
func ExtractTextFromHTML(htmlContent string) string {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return fallbackTextExtraction(htmlContent)
	}

	var result strings.Builder
	extractTextNodes(doc, &result)

	return collapseWhitespace(result.String())
}

func extractTextNodes(node *html.Node, result *strings.Builder) {
	if node == nil {
		return
	}

	if node.Type == html.ElementNode {
		switch strings.ToLower(node.Data) {
		case "script", "style", "noscript", "head", "iframe", "object", "embed":
			return
		}
	}

	if node.Type == html.TextNode {
		text := strings.TrimSpace(node.Data)
		if text != "" {
			result.WriteString(text)
			result.WriteString(" ")
		}
	}

	for child := node.FirstChild; child != nil; child = child.NextSibling {
		extractTextNodes(child, result)
	}
}

func fallbackTextExtraction(htmlContent string) string {
	content := removeHTMLTagsWithContent(htmlContent, constants.HTMLTagsToRemove)
	content = removeHTMLTags(content)
	return collapseWhitespace(content)
}

func collapseWhitespace(content string) string {
	content = strings.ReplaceAll(content, constants.WhitespaceNewline, " ")
	content = strings.ReplaceAll(content, constants.WhitespaceTab, " ")
	for strings.Contains(content, constants.WhitespaceDouble) {
		content = strings.ReplaceAll(content, constants.WhitespaceDouble, " ")
	}
	return strings.TrimSpace(content)
}

// removeHTMLTagsWithContent removes the given tags along with their content.
func removeHTMLTagsWithContent(content string, tags []string) string {
	for _, tag := range tags {
		startTag := "<" + tag
		endTag := "</" + tag + ">"

		for {
			start := strings.Index(strings.ToLower(content), startTag)
			if start == -1 {
				break
			}
			tagEnd := strings.Index(content[start:], ">")
			if tagEnd == -1 {
				break
			}
			tagEnd += start + 1

			end := strings.Index(strings.ToLower(content[tagEnd:]), endTag)
			if end == -1 {
				break
			}
			end += tagEnd + len(endTag)

			content = content[:start] + content[end:]
		}
	}
	return content
}

func removeHTMLTags(content string) string {
	inTag := false
	var result strings.Builder

	for _, char := range content {
		switch {
		case char == '<':
			inTag = true
		case char == '>':
			inTag = false
		case !inTag:
			result.WriteRune(char)
		}
	}
	return result.String()
}
