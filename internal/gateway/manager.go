// Package gateway provides payment gateways and resolves them by name.
package gateway

import (
	"strings"

	"github.com/go-faster/errors"

	"github.com/NPatel10/jewellery-ecommerce/internal/domain/payment"
)

var _ payment.Gateways = (*Manager)(nil)

// Manager resolves registered gateways by name.
type Manager struct {
	gateways       map[string]payment.Gateway
	defaultGateway string
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithDefault selects the gateway used when no name is requested.
func WithDefault(name string) ManagerOption {
	return func(m *Manager) {
		m.defaultGateway = normalize(name)
	}
}

// NewManager builds a Manager over gateways. The mock gateway is the default
// when registered.
func NewManager(gateways []payment.Gateway, opts ...ManagerOption) (*Manager, error) {
	if len(gateways) == 0 {
		return nil, errors.New("gateway: at least one gateway is required")
	}
	m := &Manager{gateways: make(map[string]payment.Gateway, len(gateways))}
	for _, g := range gateways {
		if g == nil {
			return nil, errors.New("gateway: nil gateway")
		}
		key := normalize(g.Name())
		if key == "" {
			return nil, errors.New("gateway: gateway without a name")
		}
		if _, dup := m.gateways[key]; dup {
			return nil, errors.Errorf("gateway: %q registered twice", key)
		}
		m.gateways[key] = g
	}
	if _, ok := m.gateways[payment.GatewayMock]; ok {
		m.defaultGateway = payment.GatewayMock
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.defaultGateway != "" {
		if _, ok := m.gateways[m.defaultGateway]; !ok {
			return nil, errors.Errorf("gateway: default %q is not registered", m.defaultGateway)
		}
	}
	return m, nil
}

// Resolve returns the gateway registered under name, or the default gateway
// when name is empty.
func (m *Manager) Resolve(name string) (payment.Gateway, error) {
	key := normalize(name)
	if key == "" {
		key = m.defaultGateway
	}
	g, ok := m.gateways[key]
	if !ok {
		return nil, payment.ErrUnsupportedGateway
	}
	return g, nil
}

// Names returns the registered gateway names.
func (m *Manager) Names() []string {
	out := make([]string, 0, len(m.gateways))
	for k := range m.gateways {
		out = append(out, k)
	}
	return out
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
