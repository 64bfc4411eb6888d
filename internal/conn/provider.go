// Package conn resolves connection ids to reachable database targets.
package conn

import (
	"fmt"

	"github.com/davexpro/recoverd/internal/model"
)

// Info is a resolved connection context handed to script execution.
type Info struct {
	ID       string
	Host     string
	Port     int
	Database string
	User     string
	Password string
}

// DSN renders the connection as a go-sql-driver MySQL DSN.
func (i *Info) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		i.User, i.Password, i.Host, i.Port, i.Database)
}

// Provider resolves a connection id to its target and credentials.
type Provider interface {
	Resolve(connectionID string) (*Info, error)
}

// StaticProvider serves connections from an in-memory map, typically
// built from the YAML config.
type StaticProvider struct {
	conns map[string]*Info
}

func NewStaticProvider(conns map[string]*Info) *StaticProvider {
	if conns == nil {
		conns = map[string]*Info{}
	}
	return &StaticProvider{conns: conns}
}

func (p *StaticProvider) Resolve(connectionID string) (*Info, error) {
	info, ok := p.conns[connectionID]
	if !ok {
		return nil, fmt.Errorf("connection %q: %w", connectionID, model.ErrConnectionUnavailable)
	}
	if info.User == "" {
		return nil, fmt.Errorf("connection %q has no credential: %w", connectionID, model.ErrConnectionUnavailable)
	}
	return info, nil
}
