package resources

import "fmt"

// Resource is a static document exposed to controllers.
type Resource struct {
	// URI is the unique resource key.
	URI string `json:"uri"`
	// Name is a human-friendly name.
	Name string `json:"name,omitempty"`
	// Description explains the resource.
	Description string `json:"description,omitempty"`
	// MIMEType sets the content type.
	MIMEType string `json:"mimeType,omitempty"`
	// Text is the resource body. It is not part of the listing.
	Text string `json:"-"`
}

// Contents is one entry of a resources/read result.
type Contents struct {
	URI      string `json:"uri"`
	MIMEType string `json:"mimeType,omitempty"`
	Text     string `json:"text"`
}

// Collection is an ordered set of resources keyed by URI. The zero value is empty and usable.
type Collection struct {
	items []Resource
	byURI map[string]int
}

// NewCollection builds a collection and rejects duplicate or empty URIs.
func NewCollection(items ...Resource) (*Collection, error) {
	c := &Collection{byURI: make(map[string]int, len(items))}
	for i, item := range items {
		if item.URI == "" {
			return nil, fmt.Errorf("resources[%d].uri is required", i)
		}
		if _, exists := c.byURI[item.URI]; exists {
			return nil, fmt.Errorf("duplicate resource uri: %s", item.URI)
		}
		c.byURI[item.URI] = len(c.items)
		c.items = append(c.items, item)
	}
	return c, nil
}

// List returns resources in order.
func (c *Collection) List() []Resource {
	if c == nil {
		return []Resource{}
	}
	return append([]Resource{}, c.items...)
}

// Read returns the contents of uri.
func (c *Collection) Read(uri string) (Contents, bool) {
	if c == nil {
		return Contents{}, false
	}
	idx, ok := c.byURI[uri]
	if !ok {
		return Contents{}, false
	}
	item := c.items[idx]
	mimeType := item.MIMEType
	if mimeType == "" {
		mimeType = "text/plain"
	}
	return Contents{URI: item.URI, MIMEType: mimeType, Text: item.Text}, true
}

// Len returns the number of resources.
func (c *Collection) Len() int {
	if c == nil {
		return 0
	}
	return len(c.items)
}
