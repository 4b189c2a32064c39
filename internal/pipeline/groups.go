package pipeline

import (
	"dossiers/internal"
	"dossiers/internal/util"
)

// KeyOf returns the commune a record belongs to: department code of the padded postal code, plus city.
func KeyOf(rec internal.InfractionRecord) internal.MunicipalityKey {
	return internal.MunicipalityKey{
		Department: util.Prefix(util.ZeroPad(rec.PostalCode, 5), 2),
		City:       rec.City,
	}
}

// BuildGroups indexes records by commune. Groups come in order of first
// appearance and keep their records in input order.
func BuildGroups(records []internal.InfractionRecord) []internal.MunicipalityGroup {
	index := map[internal.MunicipalityKey]int{}
	groups := []internal.MunicipalityGroup{}
	for _, rec := range records {
		key := KeyOf(rec)
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, internal.MunicipalityGroup{
				Key:        key,
				PostalCode: util.ZeroPad(rec.PostalCode, 5),
			})
		}
		groups[i].Records = append(groups[i].Records, rec)
	}
	return groups
}

func keyString(k internal.MunicipalityKey) string {
	return k.Department + " " + k.City
}
