package editor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/flowclip/flowclip-api/config"
	xerrors "github.com/flowclip/flowclip-api/errors"
	"github.com/flowclip/flowclip-api/log"
	"github.com/flowclip/flowclip-api/storage"
	"github.com/flowclip/flowclip-api/store"
	"github.com/patrickmn/go-cache"
)

// resolver turns library tags into URLs the editor backend can fetch.
// Resolved URLs are cached briefly since presigns are minted per call.
type resolver struct {
	store      *store.Store
	gateway    *storage.Gateway
	defaultDir string
	cached     *cache.Cache
}

func newResolver(st *store.Store, gw *storage.Gateway, defaultDir string) *resolver {
	return &resolver{
		store:      st,
		gateway:    gw,
		defaultDir: defaultDir,
		cached:     cache.New(30*time.Minute, 10*time.Minute),
	}
}

// resolve finds the newest active resource carrying the tag, falling back to
// the bundled default which is lazily uploaded under default_resources/.
func (r *resolver) resolve(ctx context.Context, tagName, tagType string) (string, error) {
	cacheKey := tagName + "/" + tagType
	if v, found := r.cached.Get(cacheKey); found {
		return v.(string), nil
	}

	res, err := r.store.FindResourceByTag(ctx, r.store.DB, tagName, tagType)
	if err == nil {
		url, err := r.toPublicURL(ctx, res.URL)
		if err != nil {
			return "", err
		}
		r.cached.Set(cacheKey, url, cache.DefaultExpiration)
		return url, nil
	}
	if xerrors.KindOf(err) != xerrors.KindNotFound {
		return "", err
	}

	url, err := r.uploadDefault(ctx, tagName, tagType)
	if err != nil {
		return "", err
	}
	r.cached.Set(cacheKey, url, cache.DefaultExpiration)
	return url, nil
}

func (r *resolver) toPublicURL(ctx context.Context, stored string) (string, error) {
	if strings.HasPrefix(stored, "http://") || strings.HasPrefix(stored, "https://") {
		return stored, nil
	}
	return r.gateway.Presign(ctx, stored, 0)
}

func (r *resolver) uploadDefault(ctx context.Context, tagName, tagType string) (string, error) {
	filename, ok := defaultResourceFiles[[2]string{tagName, tagType}]
	if !ok {
		return "", fmt.Errorf("no resource tagged %q/%q and no bundled default", tagName, tagType)
	}
	localPath := filepath.Join(r.defaultDir, filename)
	if _, err := os.Stat(localPath); err != nil {
		return "", fmt.Errorf("bundled default resource missing: %w", err)
	}

	key := storage.DefaultResourceKey(tagName, config.RandomTrailer(8), filepath.Ext(filename))
	contentType := "audio/mpeg"
	if tagType == "video" {
		contentType = "video/mp4"
	}
	if _, err := r.gateway.Put(ctx, localPath, key, contentType); err != nil {
		return "", fmt.Errorf("error uploading default resource: %w", err)
	}
	log.LogNoTaskID("uploaded bundled default resource", "tag", tagName, "key", key)
	return r.gateway.Presign(ctx, key, 0)
}
