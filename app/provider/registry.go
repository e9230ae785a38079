package provider

type Registry struct {
	gateways map[int32]Gateway
	primary  int32
}

// NewRegistry indexes gateways by code; the first one is the default for new invoices.
func NewRegistry(gateways ...Gateway) *Registry {
	items := make(map[int32]Gateway, len(gateways))
	var primary int32
	for i, g := range gateways {
		if i == 0 {
			primary = g.Code()
		}
		items[g.Code()] = g
	}
	return &Registry{gateways: items, primary: primary}
}

func (r *Registry) Get(code int32) (Gateway, error) {
	gateway, ok := r.gateways[code]
	if !ok {
		return nil, ErrProviderNotSupported
	}
	return gateway, nil
}

func (r *Registry) Primary() (Gateway, error) {
	return r.Get(r.primary)
}

func (r *Registry) ByName(name string) (Gateway, error) {
	for _, g := range r.gateways {
		if g.Name() == name {
			return g, nil
		}
	}
	return nil, ErrProviderNotSupported
}
