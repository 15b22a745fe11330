package objectkey

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Generator defines the interface for asset object key generation strategies
type Generator interface {
	// GenerateKey creates an object key for an asset uploaded to a content item
	GenerateKey(itemType string, itemID, assetID uuid.UUID, fileName string) string
	// Namespace returns the key prefix shared by every asset of a content item
	Namespace(itemType string, itemID uuid.UUID) string
}

// ItemNamespaceGenerator groups assets under their owning content item.
// Structure: {type}s/{itemID}/{assetID}_{filename}
type ItemNamespaceGenerator struct {
	// Prefix is prepended to every key, e.g. "portfolio/" (optional)
	Prefix string
}

// NewItemNamespaceGenerator returns a generator with no prefix
func NewItemNamespaceGenerator() *ItemNamespaceGenerator {
	return &ItemNamespaceGenerator{}
}

func (g *ItemNamespaceGenerator) Namespace(itemType string, itemID uuid.UUID) string {
	return fmt.Sprintf("%s%ss/%s/", normalizePrefix(g.Prefix), sanitizePathComponent(itemType), itemID)
}

func (g *ItemNamespaceGenerator) GenerateKey(itemType string, itemID, assetID uuid.UUID, fileName string) string {
	name := strings.ReplaceAll(assetID.String(), "-", "")
	if fileName != "" {
		name = fmt.Sprintf("%s_%s", name, sanitizeFilename(fileName))
	}
	return g.Namespace(itemType, itemID) + name
}

func normalizePrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}

func sanitizeFilename(filename string) string {
	// Replace problematic characters for URL and filesystem compatibility
	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"#", "_",
		"%", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
		" ", "_",
	)
	return replacer.Replace(filename)
}

func sanitizePathComponent(component string) string {
	return strings.ToLower(sanitizeFilename(component))
}
