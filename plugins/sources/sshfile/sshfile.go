// Package sshfile implements a Source that downloads a remote file over
// SFTP and emits it as a text_line sequence, identically to fsfile but for
// files that live on a remote host. It wraps the shared pkg/transports/ssh
// client rather than re-implementing SSH/SFTP.
package sshfile

import (
	"bufio"
	"context"
	"os"

	"github.com/google/uuid"

	"github.com/waivern-compliance/waivern/pkg/component"
	"github.com/waivern-compliance/waivern/pkg/registry"
	"github.com/waivern-compliance/waivern/pkg/schema"
	"github.com/waivern-compliance/waivern/pkg/transports/ssh"
	"github.com/waivern-compliance/waivern/pkg/waivernerr"
)

// TypeName is the source_type this plugin registers under.
const TypeName = "sshfile"

var textLineSchema = schema.Schema{Name: "text_line", Version: "1.0.0"}

// Register adds the sshfile source factory to r.
func Register(r *registry.Registry) {
	r.RegisterSource(TypeName, Factory{})
}

// Factory builds sshfile sources from host/user/remote_path properties,
// plus the usual pkg/transports/ssh authentication knobs.
type Factory struct{}

func (Factory) ConfigSchema() string {
	return `{
		host:        string
		user:        string
		remote_path: string
		port?:       int
		auth_method?: "password" | "key" | "agent"
		password?:    string
		private_key_path?: string
		known_hosts_path?: string
	}`
}

func (Factory) OutputSchemas() []schema.Schema { return []schema.Schema{textLineSchema} }

func (Factory) Create(properties component.Properties) (component.Source, error) {
	host, _ := properties["host"].(string)
	user, _ := properties["user"].(string)
	remotePath, _ := properties["remote_path"].(string)
	if host == "" || user == "" || remotePath == "" {
		return nil, waivernerr.New(waivernerr.KindConfig, "sshfile requires host, user, and remote_path properties", nil).
			WithCode(waivernerr.CodeConfig)
	}

	cfg := ssh.DefaultConfig(host, user)
	if port, ok := properties["port"].(int); ok {
		cfg.Port = port
	}
	if auth, ok := properties["auth_method"].(string); ok {
		cfg.AuthMethod = ssh.AuthMethod(auth)
	}
	if password, ok := properties["password"].(string); ok {
		cfg.Password = password
	}
	if keyPath, ok := properties["private_key_path"].(string); ok {
		cfg.PrivateKeyPath = keyPath
	}
	if knownHosts, ok := properties["known_hosts_path"].(string); ok {
		cfg.KnownHostsPath = knownHosts
		cfg.StrictHostKeyChecking = true
	} else {
		cfg.StrictHostKeyChecking = false
	}

	client, err := ssh.NewSSHClient(cfg)
	if err != nil {
		return nil, waivernerr.New(waivernerr.KindConfig, "sshfile: invalid ssh configuration", err).
			WithCode(waivernerr.CodeConfig)
	}

	return &Source{client: client, remotePath: remotePath}, nil
}

// Source downloads RemotePath over SFTP and emits its lines as a
// text_line Message.
type Source struct {
	client     *ssh.SSHClient
	remotePath string
}

func (s *Source) Extract(ctx context.Context) (schema.Message, error) {
	if !s.client.IsConnected() {
		if err := s.client.Connect(ctx); err != nil {
			return schema.Message{}, waivernerr.New(waivernerr.KindSource, "sshfile: connect failed", err).
				WithCode(waivernerr.CodeSource)
		}
	}

	tmp, err := os.CreateTemp("", "waivern-sshfile-*")
	if err != nil {
		return schema.Message{}, waivernerr.New(waivernerr.KindSource, "sshfile: cannot create temp file", err).
			WithCode(waivernerr.CodeSource)
	}
	localPath := tmp.Name()
	tmp.Close()
	defer os.Remove(localPath)

	if err := s.client.DownloadFile(ctx, s.remotePath, localPath); err != nil {
		return schema.Message{}, waivernerr.New(waivernerr.KindSource, "sshfile: download failed for "+s.remotePath, err).
			WithCode(waivernerr.CodeSource)
	}

	f, err := os.Open(localPath)
	if err != nil {
		return schema.Message{}, waivernerr.New(waivernerr.KindSource, "sshfile: cannot read downloaded file", err).
			WithCode(waivernerr.CodeSource)
	}
	defer f.Close()

	var items []schema.Content
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return schema.Message{}, err
		}
		items = append(items, schema.Scalar(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return schema.Message{}, waivernerr.New(waivernerr.KindSource, "sshfile: error reading downloaded file", err).
			WithCode(waivernerr.CodeSource)
	}

	return schema.Message{
		ID:      uuid.New().String(),
		Schema:  textLineSchema,
		Content: schema.Sequence(items...),
	}, nil
}

func (s *Source) OutputSchemas() []schema.Schema { return []schema.Schema{textLineSchema} }

func (s *Source) Close(context.Context) error {
	return s.client.Disconnect()
}
