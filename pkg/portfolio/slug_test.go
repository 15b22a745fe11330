package portfolio_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tendant/simple-portfolio/pkg/portfolio"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Hello World", "hello-world"},
		{"  Go & Rust!  ", "go-rust"},
		{"Café Crème", "cafe-creme"},
		{"multi   space--dash__under", "multi-space-dash-under"},
		{"C++", "c"},
		{"", ""},
		{"---", ""},
		{"Version 2.0", "version-20"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, portfolio.Slugify(tt.in))
		})
	}
}
