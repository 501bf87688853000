package geo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticResolver(t *testing.T) {
	resolver := NewStaticResolver()

	t.Run("known city", func(t *testing.T) {
		p, err := resolver.Resolve(context.Background(), "45 MG Road, Mumbai, Maharashtra")
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Equal(t, 19.0760, p.Lat)
		assert.Equal(t, 72.8777, p.Lng)
	})

	t.Run("unknown city falls back to shop", func(t *testing.T) {
		p, err := resolver.Resolve(context.Background(), "Somewhere unrecognizable")
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Equal(t, shopPoint, *p)
	})

	t.Run("empty address is a miss", func(t *testing.T) {
		p, err := resolver.Resolve(context.Background(), "")
		require.NoError(t, err)
		assert.Nil(t, p)
	})
}

func TestMapURL(t *testing.T) {
	url := MapURL(Point{Lat: 28.6139, Lng: 77.209})
	assert.Equal(t, "https://www.google.com/maps?q=28.6139,77.209", url)
}
