package exports

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/surveyline-labs/surveyline-go/internal/analysis"
	"github.com/surveyline-labs/surveyline-go/internal/identity"
	"github.com/surveyline-labs/surveyline-go/internal/traced"
)

// LocationContacts collects the uids of respondents whose coded location
// resolves, via the scheme, to one of the target values. STOP-coded records
// are skipped. The result is deduplicated and sorted.
func LocationContacts(records []traced.Record, scheme *CodeScheme, codedField string, targets []string) []string {
	targetSet := make(map[string]struct{}, len(targets))
	for _, target := range targets {
		targetSet[target] = struct{}{}
	}

	seen := make(map[string]struct{})
	uids := make([]string, 0)
	for _, record := range records {
		codeID, ok := record.Get(codedField)
		if !ok || codeID == analysis.CodeStop {
			continue
		}
		value, ok := scheme.StringValue(codeID)
		if !ok {
			continue
		}
		if _, want := targetSet[value]; !want {
			continue
		}
		if _, dup := seen[record.UID]; dup {
			continue
		}
		seen[record.UID] = struct{}{}
		uids = append(uids, record.UID)
	}
	sort.Strings(uids)
	return uids
}

// WeeklyContacts collects the uids of every consenting respondent, minus an
// exclusion list.
func WeeklyContacts(records []traced.Record, exclude []string) []string {
	excluded := make(map[string]struct{}, len(exclude))
	for _, uid := range exclude {
		excluded[uid] = struct{}{}
	}

	seen := make(map[string]struct{})
	uids := make([]string, 0)
	for _, record := range records {
		if withdrawn, _ := record.Get(analysis.ConsentWithdrawnKey); strings.EqualFold(withdrawn, "true") {
			continue
		}
		if _, skip := excluded[record.UID]; skip {
			continue
		}
		if _, dup := seen[record.UID]; dup {
			continue
		}
		seen[record.UID] = struct{}{}
		uids = append(uids, record.UID)
	}
	sort.Strings(uids)
	return uids
}

// ResolveURNs converts uids back to telephone URNs through the identity
// table. Uids the table no longer knows are returned separately rather than
// failing the export.
func ResolveURNs(ctx context.Context, resolver identity.Resolver, uids []string) (urns, skipped []string, err error) {
	rawByUID, err := resolver.RawContactIDs(ctx, uids)
	if err != nil {
		return nil, nil, fmt.Errorf("reverse uid lookup: %w", err)
	}
	for _, uid := range uids {
		raw, ok := rawByUID[uid]
		if !ok {
			skipped = append(skipped, uid)
			continue
		}
		urns = append(urns, "+"+strings.TrimPrefix(raw, "+"))
	}
	sort.Strings(urns)
	return urns, skipped, nil
}

// WriteContactsCSV writes URNs in the messaging platform's contact import
// format. The Name column is intentionally left blank.
func WriteContactsCSV(path string, urns []string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"URN:Tel", "Name"}); err != nil {
		return err
	}
	for _, urn := range urns {
		if err := w.Write([]string{urn, ""}); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}
