package image

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/namespaces"

	"github.com/vesseld/vesseld/pkg/types"
)

// Namespace is the containerd namespace vesseld images live in - the same
// one runtime.ContainerdRuntime operates containers in, so an image pulled
// through Manager is immediately visible to CreateVM.
const Namespace = "vesseld"

// ProgressEvent mirrors Docker's image pull/load NDJSON record shape.
type ProgressEvent struct {
	Status         string          `json:"status"`
	ID             string          `json:"id,omitempty"`
	ProgressDetail *ProgressDetail `json:"progressDetail,omitempty"`
}

type ProgressDetail struct {
	Current int64 `json:"current"`
	Total   int64 `json:"total"`
}

// Manager is the ImageManager facade: pull, load, list, inspect, delete,
// and prune, all delegating the actual content-addressed storage to
// containerd's image and content stores.
type Manager struct {
	client *containerd.Client
}

// NewManager wraps an existing containerd client connection.
func NewManager(client *containerd.Client) *Manager {
	return &Manager{client: client}
}

func (m *Manager) ctx(ctx context.Context) context.Context {
	return namespaces.WithNamespace(ctx, Namespace)
}

// Pull fetches ref, emitting progress events to onProgress as layers
// download, and returns the resulting image record. onProgress may be nil.
func (m *Manager) Pull(ctx context.Context, ref string, onProgress func(ProgressEvent)) (*types.Image, error) {
	ctx = m.ctx(ctx)
	if onProgress != nil {
		onProgress(ProgressEvent{Status: fmt.Sprintf("Pulling from %s", ref)})
	}

	progressCtx, cancelProgress := context.WithCancel(ctx)
	defer cancelProgress()
	if onProgress != nil {
		go m.watchProgress(progressCtx, onProgress)
	}

	img, err := m.client.Pull(ctx, ref, containerd.WithPullUnpack)
	if err != nil {
		return nil, fmt.Errorf("image: pull %s: %w", ref, err)
	}
	cancelProgress()

	if onProgress != nil {
		onProgress(ProgressEvent{Status: "Pull complete"})
		onProgress(ProgressEvent{Status: fmt.Sprintf("Status: Downloaded newer image for %s", ref)})
	}

	return toImage(img), nil
}

// watchProgress polls the content store's in-flight ingests and reports
// per-blob download progress, the same strategy containerd's own ctr CLI
// uses for its fetch progress bar.
func (m *Manager) watchProgress(ctx context.Context, onProgress func(ProgressEvent)) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	seen := make(map[string]bool)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			statuses, err := m.client.ContentStore().ListStatuses(ctx)
			if err != nil {
				continue
			}
			for _, st := range statuses {
				if !seen[st.Ref] {
					seen[st.Ref] = true
					onProgress(ProgressEvent{Status: "Pulling fs layer", ID: shortDigest(st.Ref)})
				}
				onProgress(ProgressEvent{
					Status: "Downloading",
					ID:     shortDigest(st.Ref),
					ProgressDetail: &ProgressDetail{
						Current: st.Offset,
						Total:   st.Total,
					},
				})
			}
		}
	}
}

// Load imports an OCI image layout tarball (used both for POST
// /images/load and internally to stage vesseld's own helper image).
func (m *Manager) Load(ctx context.Context, r io.Reader, onProgress func(ProgressEvent)) ([]*types.Image, error) {
	ctx = m.ctx(ctx)
	images, err := m.client.Import(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("image: load: %w", err)
	}
	var out []*types.Image
	for _, img := range images {
		c, err := m.client.GetImage(ctx, img.Name)
		if err != nil {
			continue
		}
		rec := toImage(c)
		out = append(out, rec)
		if onProgress != nil {
			onProgress(ProgressEvent{Status: "Loaded image: " + img.Name})
		}
	}
	return out, nil
}

// List returns every image known to containerd's image store.
func (m *Manager) List(ctx context.Context) ([]*types.Image, error) {
	ctx = m.ctx(ctx)
	imgs, err := m.client.ListImages(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*types.Image, 0, len(imgs))
	for _, img := range imgs {
		out = append(out, toImage(img))
	}
	return out, nil
}

// Inspect returns a single image by ref.
func (m *Manager) Inspect(ctx context.Context, ref string) (*types.Image, error) {
	ctx = m.ctx(ctx)
	img, err := m.client.GetImage(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("image: %s: not found", ref)
	}
	return toImage(img), nil
}

// Delete removes an image reference; force is accepted but not consulted.
// If this was the image's last reference, underlying content is removed
// from the content store by containerd's own garbage collector on its next
// pass; vesseld doesn't run GC itself.
func (m *Manager) Delete(ctx context.Context, ref string, force bool) error {
	ctx = m.ctx(ctx)
	return m.client.ImageService().Delete(ctx, ref)
}

// Prune removes every image with no container referencing it and returns
// the refs removed. usedRefs is supplied by ContainerManager since
// Manager doesn't track container->image relationships itself.
func (m *Manager) Prune(ctx context.Context, usedRefs map[string]bool) ([]string, error) {
	ctx = m.ctx(ctx)
	imgs, err := m.client.ListImages(ctx)
	if err != nil {
		return nil, err
	}
	var removed []string
	for _, img := range imgs {
		if usedRefs[img.Name()] {
			continue
		}
		if err := m.client.ImageService().Delete(ctx, img.Name()); err != nil {
			continue
		}
		removed = append(removed, img.Name())
	}
	return removed, nil
}

func toImage(img containerd.Image) *types.Image {
	return &types.Image{
		ID:        img.Target().Digest.String(),
		RepoTags:  []string{img.Name()},
		Size:      img.Target().Size,
		CreatedAt: time.Now(),
	}
}

func shortDigest(ref string) string {
	if len(ref) > 19 {
		return ref[:19]
	}
	return ref
}
