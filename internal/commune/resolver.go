package commune

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"dossiers/internal"
)

type Lookup interface {
	FindCommunes(ctx context.Context, city, postalCode string) ([]internal.Commune, error)
	MairieAddress(ctx context.Context, insee string) (string, error)
}

type Cache interface {
	CachedCommune(city, postalCode string, maxAge time.Duration) (*internal.CachedCommune, error)
	StoreCommune(entry internal.CachedCommune) error
}

type MayorTable interface {
	Lookup(insee string) (internal.Mayor, bool)
}

// Resolver produces the addressee of a commune's letter.
type Resolver struct {
	lookup   Lookup
	mayors   MayorTable
	cache    Cache
	cacheTTL time.Duration
	log      *slog.Logger
}

// NewResolver builds a resolver. cache may be nil.
func NewResolver(lookup Lookup, mayors MayorTable, cache Cache, cacheTTL time.Duration, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{lookup: lookup, mayors: mayors, cache: cache, cacheTTL: cacheTTL, log: log}
}

// Resolve finds the commune, its town-hall address and its mayor.
// A commune the place-lookup cannot find yields an error wrapping ErrCommuneNotFound.
func (r *Resolver) Resolve(ctx context.Context, city, postalCode string) (internal.Addressee, error) {
	entry, err := r.resolveCommune(ctx, city, postalCode)
	if err != nil {
		return internal.Addressee{}, err
	}

	mayor, ok := r.mayors.Lookup(entry.INSEE)
	if !ok {
		r.log.Warn("maire introuvable dans le RNE", "insee", entry.INSEE, "ville", city)
		mayor = internal.Mayor{Gender: internal.GenderUnknown}
	}

	return internal.Addressee{
		City:          city,
		PostalCode:    postalCode,
		INSEE:         entry.INSEE,
		TownHallLines: entry.TownHallLines,
		Mayor:         mayor,
	}, nil
}

func (r *Resolver) resolveCommune(ctx context.Context, city, postalCode string) (internal.CachedCommune, error) {
	if r.cache != nil {
		cached, err := r.cache.CachedCommune(city, postalCode, r.cacheTTL)
		if err != nil {
			r.log.Warn("lecture du cache communes impossible", "error", err)
		} else if cached != nil {
			r.log.Debug("commune trouvée en cache", "ville", city, "insee", cached.INSEE)
			return *cached, nil
		}
	}

	candidates, err := r.lookup.FindCommunes(ctx, city, postalCode)
	if err != nil {
		return internal.CachedCommune{}, fmt.Errorf("geocoding %s (%s): %w", city, postalCode, err)
	}
	picked, err := PickCommune(city, candidates)
	if err != nil {
		return internal.CachedCommune{}, fmt.Errorf("aucune commune '%s' (CP %s): %w", city, postalCode, err)
	}

	entry := internal.CachedCommune{
		City:       city,
		PostalCode: postalCode,
		INSEE:      picked.Code,
		Name:       picked.Name,
		Population: picked.Population,
		ResolvedAt: time.Now().UTC(),
	}

	address, err := r.lookup.MairieAddress(ctx, picked.Code)
	if err != nil {
		r.log.Warn("adresse de mairie indisponible", "insee", picked.Code, "error", err)
		entry.TownHallLines = AddressUnavailable
		return entry, nil
	}
	entry.TownHallLines = address

	if r.cache != nil {
		if err := r.cache.StoreCommune(entry); err != nil {
			r.log.Warn("écriture du cache communes impossible", "error", err)
		}
	}
	return entry, nil
}
