package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/philipparndt/meshvault/internal/cache"
	"github.com/philipparndt/meshvault/internal/storage"
	"github.com/philipparndt/meshvault/pkg/gltfconv"
	"github.com/philipparndt/meshvault/pkg/stl"
	"github.com/philipparndt/meshvault/pkg/watermark"
)

const defaultDownloadName = "model"

var nonAlphanumeric = regexp.MustCompile(`[^A-Za-z0-9]+`)

// glbMagic opens every binary glTF file
var glbMagic = []byte("glTF")

// Download is a binary STL ready to serve
type Download struct {
	Filename string
	Data     []byte
}

// Artifact is a loaded container object. STL holds the raw bytes of STL
// fallback artifacts, which are served as stored.
type Artifact struct {
	Container *gltfconv.Container
	STL       []byte
}

// Downloader turns stored containers back into STL files. Loaded artifacts
// are cached by path.
type Downloader struct {
	store storage.Store
	cache *cache.Cache[*Artifact]
}

// NewDownloader reads containers from store, or from the local file system
// when store is nil. A nil cache disables caching.
func NewDownloader(store storage.Store, c *cache.Cache[*Artifact]) *Downloader {
	return &Downloader{store: store, cache: c}
}

// Download decodes the container at containerPath into binary STL. The STL
// header carries the provenance stamp when the container has one.
func (d *Downloader) Download(ctx context.Context, containerPath, assetName string) (*Download, error) {
	filename := DownloadFilename(assetName)

	load := func() (*Artifact, error) {
		return d.load(ctx, containerPath)
	}
	var (
		artifact *Artifact
		err      error
	)
	if d.cache != nil {
		artifact, err = d.cache.GetOrLoad(containerPath, load)
	} else {
		artifact, err = load()
	}
	if err != nil {
		return nil, err
	}

	if artifact.Container == nil {
		return &Download{Filename: filename, Data: artifact.STL}, nil
	}
	return encodeDownload(artifact.Container, filename)
}

func (d *Downloader) load(ctx context.Context, containerPath string) (*Artifact, error) {
	data, err := d.read(ctx, containerPath)
	if err != nil {
		return nil, err
	}

	if !bytes.HasPrefix(data, glbMagic) {
		if _, err := stl.Decode(data); err != nil {
			return nil, fmt.Errorf("download %s: %w", containerPath, err)
		}
		return &Artifact{STL: data}, nil
	}

	container, err := gltfconv.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", containerPath, err)
	}
	return &Artifact{Container: container}, nil
}

func (d *Downloader) read(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		rc  io.ReadCloser
		err error
	)
	if d.store != nil {
		rc, err = d.store.Get(ctx, path)
	} else {
		rc, err = os.Open(path)
	}
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", path, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", path, err)
	}
	return data, nil
}

func encodeDownload(container *gltfconv.Container, filename string) (*Download, error) {
	soup, err := gltfconv.ConvertReverse(container)
	if err != nil {
		return nil, err
	}

	header := "meshvault"
	stamp, ok, err := watermark.ReadStamp(container)
	if err != nil {
		return nil, err
	}
	if ok {
		header = watermark.ProvenanceHeader(watermark.Payload{
			ArtistID:    stamp.ArtistID,
			PlatformID:  stamp.PlatformID,
			WatermarkID: stamp.WatermarkID,
		})
	}

	data, err := stl.Encode(soup, header)
	if err != nil {
		return nil, err
	}
	return &Download{Filename: filename, Data: data}, nil
}

// DownloadFilename replaces runs of non-alphanumerics with "_" and appends
// ".stl"; an empty result becomes "model.stl"
func DownloadFilename(assetName string) string {
	name := strings.Trim(nonAlphanumeric.ReplaceAllString(assetName, "_"), "_")
	if name == "" {
		name = defaultDownloadName
	}
	return name + ".stl"
}
