package storage

import (
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"net"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vesseld/vesseld/pkg/types"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteStore implements Store on top of a single-process, file-backed
// sqlite database via the pure-Go modernc.org/sqlite driver.
type SQLiteStore struct {
	db *sql.DB
}

// Open creates (if needed) and opens the sqlite database at path, applying
// the schema idempotently.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer discipline; sqlite serializes writes anyway

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if _, err := db.Exec("INSERT OR IGNORE INTO subnet_allocator (id, next_octet2) VALUES (1, 18)"); err != nil {
		db.Close()
		return nil, fmt.Errorf("seed subnet allocator: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// containerSpec is the portion of types.Container serialized as a single
// JSON blob; fields promoted to their own columns for filtering (phase, pid,
// exit code, timestamps) are excluded here to avoid a second source of
// truth once they're read back out.
type containerSpec struct {
	Name          string                 `json:"name"`
	Image         string                 `json:"image"`
	Cmd           []string               `json:"cmd"`
	Entrypoint    []string               `json:"entrypoint"`
	Env           []string               `json:"env"`
	WorkingDir    string                 `json:"working_dir"`
	User          string                 `json:"user"`
	Tty           bool                   `json:"tty"`
	OpenStdin     bool                   `json:"open_stdin"`
	Labels        map[string]string      `json:"labels"`
	HostConfig    *types.HostConfig      `json:"host_config"`
	HealthCheck   *types.HealthCheck     `json:"health_check"`
	RestartPolicy *types.RestartPolicy   `json:"restart_policy"`
	Health        *types.HealthState     `json:"health"`
}

func timeOrNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

func parseTime(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s.String)
	return t
}

func (s *SQLiteStore) CreateContainer(c *types.Container) error {
	return s.upsertContainer(c, true)
}

func (s *SQLiteStore) UpdateContainer(c *types.Container) error {
	return s.upsertContainer(c, false)
}

func (s *SQLiteStore) upsertContainer(c *types.Container, insert bool) error {
	spec := containerSpec{
		Name: c.Name, Image: c.Image, Cmd: c.Cmd, Entrypoint: c.Entrypoint, Env: c.Env,
		WorkingDir: c.WorkingDir, User: c.User, Tty: c.Tty, OpenStdin: c.OpenStdin,
		Labels: c.Labels, HostConfig: c.HostConfig, HealthCheck: c.HealthCheck,
		RestartPolicy: c.RestartPolicy, Health: c.Health,
	}
	blob, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("marshal container spec: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO containers (id, name, image, image_id, vm_id, phase, pid, exit_code, error,
			oom_killed, restart_seq, restarted_at, created_at, started_at, finished_at, spec_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, image=excluded.image, image_id=excluded.image_id,
			vm_id=excluded.vm_id, phase=excluded.phase, pid=excluded.pid,
			exit_code=excluded.exit_code, error=excluded.error, oom_killed=excluded.oom_killed,
			restart_seq=excluded.restart_seq, restarted_at=excluded.restarted_at,
			started_at=excluded.started_at, finished_at=excluded.finished_at,
			spec_json=excluded.spec_json`,
		c.ID, c.Name, c.Image, c.ImageID, c.VMID, string(c.Phase), c.Pid, c.ExitCode, c.Error,
		boolToInt(c.OOMKilled), c.RestartSeq, timeOrNil(c.RestartedAt), timeOrNil(c.CreatedAt),
		timeOrNil(c.StartedAt), timeOrNil(c.FinishedAt), string(blob))
	if err != nil {
		return fmt.Errorf("upsert container %s: %w", c.ID, err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *SQLiteStore) scanContainer(row interface {
	Scan(dest ...any) error
}) (*types.Container, error) {
	var (
		c                                        types.Container
		phase                                    string
		oomKilled                                int
		restartedAt, startedAt, finishedAt, spec sql.NullString
		createdAt                                string
		blob                                     string
	)
	if err := row.Scan(&c.ID, &c.Name, &c.Image, &c.ImageID, &c.VMID, &phase, &c.Pid, &c.ExitCode,
		&c.Error, &oomKilled, &c.RestartSeq, &restartedAt, &createdAt, &startedAt, &finishedAt, &blob); err != nil {
		return nil, err
	}
	_ = spec

	var cs containerSpec
	if err := json.Unmarshal([]byte(blob), &cs); err != nil {
		return nil, fmt.Errorf("unmarshal container spec: %w", err)
	}

	c.Phase = types.ContainerPhase(phase)
	c.OOMKilled = oomKilled != 0
	c.RestartedAt = parseTime(restartedAt)
	c.CreatedAt = parseTime(sql.NullString{String: createdAt, Valid: true})
	c.StartedAt = parseTime(startedAt)
	c.FinishedAt = parseTime(finishedAt)
	c.Cmd, c.Entrypoint, c.Env = cs.Cmd, cs.Entrypoint, cs.Env
	c.WorkingDir, c.User, c.Tty, c.OpenStdin = cs.WorkingDir, cs.User, cs.Tty, cs.OpenStdin
	c.Labels, c.HostConfig, c.HealthCheck, c.RestartPolicy, c.Health =
		cs.Labels, cs.HostConfig, cs.HealthCheck, cs.RestartPolicy, cs.Health

	return &c, nil
}

const containerColumns = `id, name, image, image_id, vm_id, phase, pid, exit_code, error,
	oom_killed, restart_seq, restarted_at, created_at, started_at, finished_at, spec_json`

func (s *SQLiteStore) GetContainer(id string) (*types.Container, error) {
	row := s.db.QueryRow(`SELECT `+containerColumns+` FROM containers WHERE id = ?`, id)
	c, err := s.scanContainer(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("container not found: %s", id)
	}
	return c, err
}

func (s *SQLiteStore) GetContainerByName(name string) (*types.Container, error) {
	row := s.db.QueryRow(`SELECT `+containerColumns+` FROM containers WHERE name = ?`, name)
	c, err := s.scanContainer(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("container not found: %s", name)
	}
	return c, err
}

func (s *SQLiteStore) ListContainers() ([]*types.Container, error) {
	rows, err := s.db.Query(`SELECT ` + containerColumns + ` FROM containers ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.Container
	for rows.Next() {
		c, err := s.scanContainer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteContainer(id string) error {
	_, err := s.db.Exec(`DELETE FROM containers WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) AttachNetwork(containerID, networkID string, ep *types.EndpointSettings) error {
	aliases, err := json.Marshal(ep.Aliases)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO container_networks (container_id, network_id, endpoint_id, ip_address,
			prefix_len, gateway, mac_address, aliases_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(container_id, network_id) DO UPDATE SET
			endpoint_id=excluded.endpoint_id, ip_address=excluded.ip_address,
			prefix_len=excluded.prefix_len, gateway=excluded.gateway,
			mac_address=excluded.mac_address, aliases_json=excluded.aliases_json`,
		containerID, networkID, ep.EndpointID, ep.IPAddress, ep.IPPrefixLen, ep.Gateway,
		ep.MacAddress, string(aliases))
	return err
}

func (s *SQLiteStore) DetachNetwork(containerID, networkID string) error {
	_, err := s.db.Exec(`DELETE FROM container_networks WHERE container_id = ? AND network_id = ?`,
		containerID, networkID)
	return err
}

func (s *SQLiteStore) NetworkAttachments(containerID string) (map[string]*types.EndpointSettings, error) {
	rows, err := s.db.Query(`
		SELECT network_id, endpoint_id, ip_address, prefix_len, gateway, mac_address, aliases_json
		FROM container_networks WHERE container_id = ?`, containerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]*types.EndpointSettings)
	for rows.Next() {
		var networkID string
		var ep types.EndpointSettings
		var aliases string
		if err := rows.Scan(&networkID, &ep.EndpointID, &ep.IPAddress, &ep.IPPrefixLen,
			&ep.Gateway, &ep.MacAddress, &aliases); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(aliases), &ep.Aliases)
		ep.NetworkID = networkID
		out[networkID] = &ep
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SetMounts(containerID string, mounts []*types.Mount) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM container_mounts WHERE container_id = ?`, containerID); err != nil {
		return err
	}
	for _, m := range mounts {
		if _, err := tx.Exec(`
			INSERT INTO container_mounts (container_id, target, type, source, volume_name, read_only, propagation)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			containerID, m.Target, string(m.Type), m.Source, m.VolumeName, boolToInt(m.ReadOnly), m.Propagation); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetMounts(containerID string) ([]*types.Mount, error) {
	rows, err := s.db.Query(`
		SELECT target, type, source, volume_name, read_only, propagation
		FROM container_mounts WHERE container_id = ?`, containerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.Mount
	for rows.Next() {
		var m types.Mount
		var mtype string
		var readOnly int
		if err := rows.Scan(&m.Target, &mtype, &m.Source, &m.VolumeName, &readOnly, &m.Propagation); err != nil {
			return nil, err
		}
		m.Type = types.MountType(mtype)
		m.ReadOnly = readOnly != 0
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CreateNetwork(n *types.Network) error {
	labels, err := json.Marshal(n.Labels)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO networks (id, name, driver, subnet, gateway, internal, attachable, builtin, labels_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.Name, n.Driver, n.Subnet, n.Gateway, boolToInt(n.Internal), boolToInt(n.Attachable),
		boolToInt(n.Builtin), string(labels), timeOrNil(n.CreatedAt))
	return err
}

func scanNetwork(row interface{ Scan(dest ...any) error }) (*types.Network, error) {
	var n types.Network
	var internal, attachable, builtin int
	var labels, createdAt string
	if err := row.Scan(&n.ID, &n.Name, &n.Driver, &n.Subnet, &n.Gateway, &internal, &attachable,
		&builtin, &labels, &createdAt); err != nil {
		return nil, err
	}
	n.Internal, n.Attachable, n.Builtin = internal != 0, attachable != 0, builtin != 0
	_ = json.Unmarshal([]byte(labels), &n.Labels)
	n.CreatedAt = parseTime(sql.NullString{String: createdAt, Valid: true})
	return &n, nil
}

const networkColumns = `id, name, driver, subnet, gateway, internal, attachable, builtin, labels_json, created_at`

func (s *SQLiteStore) GetNetwork(id string) (*types.Network, error) {
	row := s.db.QueryRow(`SELECT `+networkColumns+` FROM networks WHERE id = ?`, id)
	n, err := scanNetwork(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("network not found: %s", id)
	}
	return n, err
}

func (s *SQLiteStore) GetNetworkByName(name string) (*types.Network, error) {
	row := s.db.QueryRow(`SELECT `+networkColumns+` FROM networks WHERE name = ?`, name)
	n, err := scanNetwork(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("network not found: %s", name)
	}
	return n, err
}

func (s *SQLiteStore) ListNetworks() ([]*types.Network, error) {
	rows, err := s.db.Query(`SELECT ` + networkColumns + ` FROM networks ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.Network
	for rows.Next() {
		n, err := scanNetwork(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteNetwork(id string) error {
	_, err := s.db.Exec(`DELETE FROM networks WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) AllocateIP(a *types.IPAllocation) error {
	_, err := s.db.Exec(`
		INSERT INTO ip_allocations (network_id, ip, container_id, allocated_at) VALUES (?, ?, ?, ?)`,
		a.NetworkID, a.IP.String(), a.ContainerID, timeOrNil(a.AllocatedAt))
	return err
}

func (s *SQLiteStore) ReleaseIP(networkID, ip string) error {
	_, err := s.db.Exec(`DELETE FROM ip_allocations WHERE network_id = ? AND ip = ?`, networkID, ip)
	return err
}

func (s *SQLiteStore) ListAllocations(networkID string) ([]*types.IPAllocation, error) {
	rows, err := s.db.Query(`
		SELECT network_id, ip, container_id, allocated_at FROM ip_allocations WHERE network_id = ?`, networkID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.IPAllocation
	for rows.Next() {
		var a types.IPAllocation
		var ip, allocatedAt string
		if err := rows.Scan(&a.NetworkID, &ip, &a.ContainerID, &allocatedAt); err != nil {
			return nil, err
		}
		a.IP = net.ParseIP(ip)
		a.AllocatedAt = parseTime(sql.NullString{String: allocatedAt, Valid: true})
		out = append(out, &a)
	}
	return out, rows.Err()
}

// NextSubnet advances the persisted cursor and returns the next /16 under
// 172.16.0.0/12, e.g. "172.18.0.0/16", "172.19.0.0/16", ...
func (s *SQLiteStore) NextSubnet() (string, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var octet2 int
	if err := tx.QueryRow(`SELECT next_octet2 FROM subnet_allocator WHERE id = 1`).Scan(&octet2); err != nil {
		return "", err
	}
	if octet2 > 31 {
		return "", fmt.Errorf("exhausted auto-allocated subnet pool (172.16.0.0/12)")
	}
	if _, err := tx.Exec(`UPDATE subnet_allocator SET next_octet2 = ? WHERE id = 1`, octet2+1); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return fmt.Sprintf("172.%d.0.0/16", octet2), nil
}

func (s *SQLiteStore) CreateVolume(v *types.Volume) error {
	labels, err := json.Marshal(v.Labels)
	if err != nil {
		return err
	}
	options, err := json.Marshal(v.Options)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO volumes (name, driver, mount_point, labels_json, options_json, ref_count, anonymous, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		v.Name, v.Driver, v.MountPoint, string(labels), string(options), v.RefCount,
		boolToInt(v.Anonymous), timeOrNil(v.CreatedAt))
	return err
}

func scanVolume(row interface{ Scan(dest ...any) error }) (*types.Volume, error) {
	var v types.Volume
	var labels, options, createdAt string
	var anonymous int
	if err := row.Scan(&v.Name, &v.Driver, &v.MountPoint, &labels, &options, &v.RefCount,
		&anonymous, &createdAt); err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(labels), &v.Labels)
	_ = json.Unmarshal([]byte(options), &v.Options)
	v.Anonymous = anonymous != 0
	v.CreatedAt = parseTime(sql.NullString{String: createdAt, Valid: true})
	return &v, nil
}

const volumeColumns = `name, driver, mount_point, labels_json, options_json, ref_count, anonymous, created_at`

func (s *SQLiteStore) GetVolume(name string) (*types.Volume, error) {
	row := s.db.QueryRow(`SELECT `+volumeColumns+` FROM volumes WHERE name = ?`, name)
	v, err := scanVolume(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("volume not found: %s", name)
	}
	return v, err
}

func (s *SQLiteStore) ListVolumes() ([]*types.Volume, error) {
	rows, err := s.db.Query(`SELECT ` + volumeColumns + ` FROM volumes ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.Volume
	for rows.Next() {
		v, err := scanVolume(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateVolumeRefCount(name string, delta int) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRow(`SELECT ref_count FROM volumes WHERE name = ?`, name).Scan(&count); err != nil {
		return 0, fmt.Errorf("volume not found: %s", name)
	}
	count += delta
	if count < 0 {
		count = 0
	}
	if _, err := tx.Exec(`UPDATE volumes SET ref_count = ? WHERE name = ?`, count, name); err != nil {
		return 0, err
	}
	return count, tx.Commit()
}

func (s *SQLiteStore) DeleteVolume(name string) error {
	_, err := s.db.Exec(`DELETE FROM volumes WHERE name = ?`, name)
	return err
}

func (s *SQLiteStore) CreatePortMapping(pm *types.PortMapping) error {
	_, err := s.db.Exec(`
		INSERT INTO port_mappings (container_id, container_port, proto, host_ip, host_port)
		VALUES (?, ?, ?, ?, ?)`,
		pm.ContainerID, pm.ContainerPort, pm.Proto, pm.HostIP, pm.HostPort)
	return err
}

func (s *SQLiteStore) DeletePortMapping(hostIP string, hostPort int, proto string) error {
	_, err := s.db.Exec(`
		DELETE FROM port_mappings WHERE host_ip = ? AND host_port = ? AND proto = ?`,
		hostIP, hostPort, proto)
	return err
}

func (s *SQLiteStore) ListPortMappings() ([]*types.PortMapping, error) {
	return s.queryPortMappings(`SELECT container_id, container_port, proto, host_ip, host_port FROM port_mappings`)
}

func (s *SQLiteStore) ListPortMappingsByContainer(containerID string) ([]*types.PortMapping, error) {
	return s.queryPortMappings(`
		SELECT container_id, container_port, proto, host_ip, host_port
		FROM port_mappings WHERE container_id = ?`, containerID)
}

func (s *SQLiteStore) queryPortMappings(query string, args ...any) ([]*types.PortMapping, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.PortMapping
	for rows.Next() {
		var pm types.PortMapping
		if err := rows.Scan(&pm.ContainerID, &pm.ContainerPort, &pm.Proto, &pm.HostIP, &pm.HostPort); err != nil {
			return nil, err
		}
		out = append(out, &pm)
	}
	return out, rows.Err()
}
