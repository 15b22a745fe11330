package objectkey_test

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/tendant/simple-portfolio/pkg/portfolio/objectkey"
)

func TestItemNamespaceGenerator(t *testing.T) {
	itemID := uuid.MustParse("11111111-2222-3333-4444-555555555555")
	assetID := uuid.MustParse("aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee")

	tests := []struct {
		name     string
		prefix   string
		itemType string
		fileName string
		want     string
	}{
		{
			name:     "post with filename",
			itemType: "post",
			fileName: "hero shot.png",
			want:     "posts/11111111-2222-3333-4444-555555555555/aaaaaaaabbbbccccddddeeeeeeeeeeee_hero_shot.png",
		},
		{
			name:     "project without filename",
			itemType: "project",
			want:     "projects/11111111-2222-3333-4444-555555555555/aaaaaaaabbbbccccddddeeeeeeeeeeee",
		},
		{
			name:     "prefix is normalized",
			prefix:   "/media/",
			itemType: "post",
			fileName: "a/b?.jpg",
			want:     "media/posts/11111111-2222-3333-4444-555555555555/aaaaaaaabbbbccccddddeeeeeeeeeeee_a_b_.jpg",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := &objectkey.ItemNamespaceGenerator{Prefix: tt.prefix}
			key := g.GenerateKey(tt.itemType, itemID, assetID, tt.fileName)
			assert.Equal(t, tt.want, key)
			assert.True(t, strings.HasPrefix(key, g.Namespace(tt.itemType, itemID)))
		})
	}
}
