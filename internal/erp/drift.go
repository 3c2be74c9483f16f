package erp

// Proposal shrinkage applied by the built-in drift kernels.
const (
	GaussianDriftScale = 0.7
	// DirichletDriftConcentration scales the prior concentration rather than
	// centring on the previous value. The factor is provisional and has not
	// been tuned.
	DirichletDriftConcentration = 0.1
)

type drift struct {
	ERP
	name     string
	proposal func(params Params, prev Value) Params
}

// NewDrift wraps base with a custom proposal kernel. The kernel may be
// asymmetric; its reverse probability is evaluated by the sampler.
func NewDrift(name string, base ERP, proposal func(params Params, prev Value) Params) ERP {
	return &drift{ERP: base, name: name, proposal: proposal}
}

func (d *drift) Name() string { return d.name }

func (d *drift) ProposalParams(params Params, prev Value) Params {
	return d.proposal(params, prev)
}

var (
	// GaussianDrift proposes a random walk step around the previous value.
	GaussianDrift = NewDrift("gaussianDrift", Gaussian, gaussianProposalParams)
	// DirichletDrift proposes from a flattened copy of the prior.
	DirichletDrift = NewDrift("dirichletDrift", Dirichlet, dirichletProposalParams)
)

func gaussianProposalParams(params Params, prev Value) Params {
	mu, ok := toFloat(prev)
	if !ok {
		mu = param(params, 0)
	}
	return Params{mu, param(params, 1) * GaussianDriftScale}
}

func dirichletProposalParams(params Params, _ Value) Params {
	out := make(Params, len(params))
	for i, alpha := range params {
		out[i] = DirichletDriftConcentration * alpha
	}
	return out
}
