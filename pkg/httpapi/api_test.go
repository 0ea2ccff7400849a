package httpapi

import (
	"context"
	"io"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vesseld/vesseld/pkg/apierror"
	"github.com/vesseld/vesseld/pkg/config"
	"github.com/vesseld/vesseld/pkg/container"
	"github.com/vesseld/vesseld/pkg/events"
	execpkg "github.com/vesseld/vesseld/pkg/exec"
	"github.com/vesseld/vesseld/pkg/image"
	"github.com/vesseld/vesseld/pkg/logstore"
	"github.com/vesseld/vesseld/pkg/network"
	"github.com/vesseld/vesseld/pkg/portmap"
	"github.com/vesseld/vesseld/pkg/runtime"
	"github.com/vesseld/vesseld/pkg/storage"
	"github.com/vesseld/vesseld/pkg/types"
	"github.com/vesseld/vesseld/pkg/volume"
)

const testImageID = "sha256:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

// fakeImages satisfies ImageService with one known image and no registry.
type fakeImages struct{}

func (fakeImages) Inspect(ctx context.Context, ref string) (*types.Image, error) {
	if ref == "alpine:latest" || ref == testImageID {
		return &types.Image{ID: testImageID, RepoTags: []string{"alpine:latest"}, Size: 100, CreatedAt: time.Now()}, nil
	}
	return nil, apierror.NotFound("No such image: %s", ref)
}

func (f fakeImages) Pull(ctx context.Context, ref string, onProgress func(image.ProgressEvent)) (*types.Image, error) {
	if ref != "alpine:latest" && ref != "busybox:latest" {
		return nil, apierror.NotFound("No such image: %s", ref)
	}
	if onProgress != nil {
		onProgress(image.ProgressEvent{Status: "Pulling from library/" + strings.SplitN(ref, ":", 2)[0]})
		onProgress(image.ProgressEvent{Status: "Pull complete"})
	}
	return &types.Image{ID: testImageID, RepoTags: []string{ref}}, nil
}

func (fakeImages) Load(ctx context.Context, r io.Reader, onProgress func(image.ProgressEvent)) ([]*types.Image, error) {
	return nil, nil
}

func (f fakeImages) List(ctx context.Context) ([]*types.Image, error) {
	img, _ := f.Inspect(ctx, "alpine:latest")
	return []*types.Image{img}, nil
}

func (fakeImages) Delete(ctx context.Context, ref string, force bool) error { return nil }

func (fakeImages) Prune(ctx context.Context, used map[string]bool) ([]string, error) {
	return nil, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *runtime.Mock) {
	t.Helper()
	dir := t.TempDir()

	store, err := storage.Open(filepath.Join(dir, "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	logs, err := logstore.NewStore(filepath.Join(dir, "logs"))
	require.NoError(t, err)

	rt := runtime.NewMock()
	nets := network.NewManager(store, network.NewMockBridgeController())
	require.NoError(t, nets.EnsureDefaults(context.Background()))

	vols, err := volume.NewManager(store, filepath.Join(dir, "volumes"))
	require.NoError(t, err)
	ports, err := portmap.NewManager(store)
	require.NoError(t, err)
	execs := execpkg.NewManager(rt)

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	images := fakeImages{}
	mgr := container.New(store, rt, nets, vols, ports, images, logs, execs, broker)

	cfg := config.Default()
	cfg.Home = dir
	cfg.MaxRequestBodyBytes = 1 << 20

	api := NewAPI(cfg, mgr, images, nets, vols, execs, "test")
	srv := httptest.NewServer(api.Router())
	t.Cleanup(srv.Close)
	return srv, rt
}

func TestPingWithAndWithoutVersionPrefix(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, path := range []string{"/_ping", "/v1.51/_ping", "/v1.24/_ping"} {
		resp, err := srv.Client().Get(srv.URL + path)
		require.NoError(t, err, path)
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		require.Equal(t, 200, resp.StatusCode, path)
		require.Equal(t, "OK", string(body), path)
		require.Equal(t, "1.51", resp.Header.Get("API-Version"), path)
	}
}

func TestVersionEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	var v versionResponse
	getJSON(t, srv, "/version", 200, &v)
	require.Equal(t, "1.51", v.ApiVersion)
	require.Equal(t, "test", v.Version)
}

func TestMethodNotAllowedBeatsNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	req, _ := newRequest(t, "DELETE", srv.URL+"/version", "")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, 405, resp.StatusCode)
}

func TestContainerLifecycleRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t)

	id := createContainer(t, srv, `{"Image":"alpine:latest","Cmd":["echo","hi"]}`, "")
	require.Len(t, id, 64)

	var ins containerInspect
	getJSON(t, srv, "/containers/"+id+"/json", 200, &ins)
	require.Equal(t, "created", ins.State.Status)
	require.Equal(t, id, ins.Id)
	require.Equal(t, "echo", ins.Path)
	require.Equal(t, []string{"hi"}, ins.Args)

	// version-prefixed and unprefixed inspect agree
	var ins2 containerInspect
	getJSON(t, srv, "/v1.51/containers/"+id+"/json", 200, &ins2)
	require.Equal(t, ins.Id, ins2.Id)
	require.Equal(t, ins.State.Status, ins2.State.Status)

	doRequest(t, srv, "DELETE", "/containers/"+id, "", 204)
	doRequest(t, srv, "GET", "/containers/"+id+"/json", "", 404)
	doRequest(t, srv, "DELETE", "/containers/"+id, "", 404)
}

func TestCreateUnknownImageIs404(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doRequest(t, srv, "POST", "/containers/create", `{"Image":"nope:latest"}`, 404)
	require.Contains(t, resp, "No such image")
}

func TestCreateDuplicateNameIs409(t *testing.T) {
	srv, _ := newTestServer(t)

	createContainer(t, srv, `{"Image":"alpine:latest","Cmd":["true"]}`, "web")
	resp := doRequest(t, srv, "POST", "/containers/create?name=web", `{"Image":"alpine:latest","Cmd":["true"]}`, 409)
	require.Contains(t, resp, "already in use")
}

func TestStartKillWait(t *testing.T) {
	srv, _ := newTestServer(t)

	id := createContainer(t, srv, `{"Image":"alpine:latest","Cmd":["sleep","60"]}`, "")
	doRequest(t, srv, "POST", "/containers/"+id+"/start", "", 204)

	var ins containerInspect
	getJSON(t, srv, "/containers/"+id+"/json", 200, &ins)
	require.Equal(t, "running", ins.State.Status)

	doRequest(t, srv, "POST", "/containers/"+id+"/kill?signal=KILL", "", 204)

	var wr waitResponse
	postJSON(t, srv, "/containers/"+id+"/wait", "", 200, &wr)
	require.Equal(t, 137, wr.StatusCode)
}

func TestStopOnStoppedContainerIsNoop(t *testing.T) {
	srv, _ := newTestServer(t)

	id := createContainer(t, srv, `{"Image":"alpine:latest","Cmd":["true"]}`, "")
	doRequest(t, srv, "POST", "/containers/"+id+"/stop", "", 204)
	doRequest(t, srv, "POST", "/containers/"+id+"/stop", "", 204)
}

func TestBadQueryParamIs400(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doRequest(t, srv, "GET", "/containers/json?all=banana", "", 400)
	require.Contains(t, resp, "all")
	require.Contains(t, resp, "banana")
}

func TestExecOnStoppedContainerIs409(t *testing.T) {
	srv, _ := newTestServer(t)

	id := createContainer(t, srv, `{"Image":"alpine:latest","Cmd":["true"]}`, "")
	resp := doRequest(t, srv, "POST", "/containers/"+id+"/exec", `{"Cmd":["sh"]}`, 409)
	require.Contains(t, resp, "not running")
}

func TestNetworkEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	var created struct {
		Id string `json:"Id"`
	}
	postJSON(t, srv, "/networks/create",
		`{"Name":"n1","IPAM":{"Config":[{"Subnet":"10.90.0.0/24"}]}}`, 201, &created)
	require.NotEmpty(t, created.Id)

	var n networkResource
	getJSON(t, srv, "/networks/"+created.Id, 200, &n)
	require.Equal(t, "n1", n.Name)
	require.Equal(t, "10.90.0.0/24", n.IPAM.Config[0].Subnet)

	// duplicate name conflicts
	doRequest(t, srv, "POST", "/networks/create", `{"Name":"n1"}`, 409)

	// builtins refuse deletion
	var all []networkResource
	getJSON(t, srv, "/networks", 200, &all)
	var bridgeID string
	for _, net := range all {
		if net.Name == "bridge" {
			bridgeID = net.Id
		}
	}
	require.NotEmpty(t, bridgeID)
	doRequest(t, srv, "DELETE", "/networks/"+bridgeID, "", 403)

	doRequest(t, srv, "DELETE", "/networks/"+created.Id, "", 204)
	doRequest(t, srv, "GET", "/networks/"+created.Id, "", 404)
}

func TestVolumeEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	var v volumeResource
	postJSON(t, srv, "/volumes/create", `{"Name":"data","Labels":{"env":"test"}}`, 201, &v)
	require.Equal(t, "data", v.Name)
	require.NotEmpty(t, v.Mountpoint)

	var list volumeListResponse
	getJSON(t, srv, "/volumes", 200, &list)
	require.Len(t, list.Volumes, 1)

	// label filter excludes non-matching volumes
	getJSON(t, srv, `/volumes?filters={"label":["env=prod"]}`, 200, &list)
	require.Empty(t, list.Volumes)

	doRequest(t, srv, "DELETE", "/volumes/data", "", 204)
	doRequest(t, srv, "GET", "/volumes/data", "", 404)
}

func TestImagePullStreamsNDJSON(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := srv.Client().Post(srv.URL+"/images/create?fromImage=busybox&tag=latest", "application/json", nil)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	require.Equal(t, 200, resp.StatusCode)
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	require.GreaterOrEqual(t, len(lines), 2)
	require.Contains(t, lines[0], "Pulling from")
	require.Contains(t, lines[len(lines)-1], "Pull complete")
}

func TestImagePullAlreadyPresentIsUpToDate(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := srv.Client().Post(srv.URL+"/images/create?fromImage=alpine:latest", "application/json", nil)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	require.Equal(t, 200, resp.StatusCode)
	require.Contains(t, string(body), "Image is up to date")
}
