package adapter

import (
	"erpmigrate/pkg/errors"
)

// New builds the variant matching the profile's source system. Live profiles are
// validated; mock runs accept incomplete profiles.
func New(p Profile, opts Options) (SourceAdapter, error) {
	if opts.Mode != ModeMock {
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}
	if opts.Fixtures == nil && opts.Mode == ModeMock {
		opts.Fixtures = NewFixtureSet(p.System)
	}

	var (
		a   SourceAdapter
		err error
	)
	switch p.System {
	case SystemLN:
		a, err = wrap(NewLN(p, opts))
	case SystemM3:
		a, err = wrap(NewM3(p, opts))
	case SystemCSI:
		a, err = wrap(NewCSI(p, opts))
	case SystemLawson:
		a, err = wrap(NewLawson(p, opts))
	case SystemSAP:
		a, err = wrap(NewSAP(p, opts))
	case "":
		err = errors.ErrConfiguration.New("source adapter must declare a source system").WithDetail("profile", p.Name)
	default:
		err = errors.ErrConfiguration.Newf("unsupported source system %s", p.System).WithDetail("profile", p.Name)
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func wrap[T SourceAdapter](a T, err error) (SourceAdapter, error) {
	if err != nil {
		return nil, err
	}
	return a, nil
}
