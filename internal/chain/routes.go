package chain

// BridgeProtocol is how value crosses between two chains.
type BridgeProtocol string

const (
	ProtocolXCM     BridgeProtocol = "xcm"
	ProtocolGateway BridgeProtocol = "gateway" // EVM contract bridging into Polkadot
)

// Route is a supported cross-chain path.
type Route struct {
	Origin   string         `yaml:"origin" json:"origin"`
	Dest     string         `yaml:"dest" json:"dest"`
	Protocol BridgeProtocol `yaml:"protocol" json:"protocol"`
}

type routeKey struct {
	origin, dest string
}

// RegisterRoute adds a route to the built-in catalog.
func RegisterRoute(network Network, rt Route) {
	catalogRoutes[network] = append(catalogRoutes[network], rt)
}

// AddRoute adds or replaces a route.
func (r *Registry) AddRoute(rt Route) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[routeKey{rt.Origin, rt.Dest}] = rt
}

// Route returns the route between two chains.
func (r *Registry) Route(origin, dest string) (Route, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.routes[routeKey{origin, dest}]
	return rt, ok
}

// IsGatewayRoute reports whether origin to dest goes through the gateway
// contract. Only pure EVM origins qualify.
func (r *Registry) IsGatewayRoute(origin, dest string) bool {
	rt, ok := r.Route(origin, dest)
	if !ok || rt.Protocol != ProtocolGateway {
		return false
	}
	p, ok := r.Chain(origin)
	return ok && p.IsPureEVM()
}
