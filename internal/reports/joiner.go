package reports

import (
	"strings"
	"time"

	"adminreports/pkg/contracts/domain"
)

// Source field aliases, first present wins
var (
	paymentIDKeys     = []string{"id", "payment_id"}
	paymentUserKeys   = []string{"user_id", "userId"}
	amountKeys        = []string{"amount", "sum"}
	descriptionKeys   = []string{"description", "payment_method"}
	createdAtKeys     = []string{"created_at", "createdAt", "date"}
	userIDKeys        = []string{"id", "user_id"}
	nameKeys          = []string{"name", "username", "full_name"}
	phoneKeys         = []string{"phone", "phone_number"}
	tariffIDKeys      = []string{"tariff_id"}
	tariffNameKeys    = []string{"tariff_name", "tariff"}
	tariffActiveKeys  = []string{"tariff_active", "has_tariff", "is_tariff_active"}
	registeredAtKeys  = []string{"created_at", "registered_at", "reg_date"}
	accountNumberKeys = []string{"accountn", "account_number"}
)

// NormalizeUser resolves a raw user record into a UserRow
func NormalizeUser(rec domain.RawRecord, loc *time.Location) domain.UserRow {
	tariffID, _ := rec.Int(tariffIDKeys...)
	tariffName := rec.String(tariffNameKeys...)
	tariffActive, _ := rec.Bool(tariffActiveKeys...)

	active := true
	if v, ok := rec.Bool("is_active"); ok {
		active = v
	}

	balance, _ := rec.Decimal("balance")
	registered, _ := rec.Time(loc, registeredAtKeys...)

	return domain.UserRow{
		ID:            rec.String(userIDKeys...),
		Name:          rec.String(nameKeys...),
		Email:         rec.String("email"),
		Phone:         rec.String(phoneKeys...),
		AccountNumber: rec.String(accountNumberKeys...),
		Balance:       balance,
		TariffID:      tariffID,
		Tariff:        domain.TariffDisplayName(tariffName, tariffID),
		HasTariff:     tariffID != 0 || strings.TrimSpace(tariffName) != "" || tariffActive,
		Active:        active,
		RegisteredAt:  registered,
	}
}

// NormalizePayment resolves a raw payment record into a PaymentRow without user fields
func NormalizePayment(rec domain.RawRecord, loc *time.Location) domain.PaymentRow {
	amount, _ := rec.Decimal(amountKeys...)
	created, _ := rec.Time(loc, createdAtKeys...)
	raw := rec.String("status")

	return domain.PaymentRow{
		ID:          rec.String(paymentIDKeys...),
		UserID:      rec.String(paymentUserKeys...),
		Amount:      amount,
		Status:      domain.NormalizeStatus(raw),
		RawStatus:   raw,
		Description: rec.String(descriptionKeys...),
		CreatedAt:   created,
	}
}

// Joiner holds the user lookup built from the users collection and detail records.
// It is read-only once built.
type Joiner struct {
	loc   *time.Location
	users []domain.UserRow
	index map[string]domain.UserRow
}

// NewJoiner indexes users by id. Detail records are merged over the batch record
// with the same id; details of users absent from the batch only feed the lookup.
// When ids repeat, the last record wins.
func NewJoiner(users []domain.RawRecord, details map[string]domain.RawRecord, loc *time.Location) *Joiner {
	if loc == nil {
		loc = time.UTC
	}
	j := &Joiner{
		loc:   loc,
		index: make(map[string]domain.UserRow, len(users)+len(details)),
	}

	position := make(map[string]int, len(users))
	merged := make(map[string]struct{}, len(details))
	for _, rec := range users {
		id := rec.String(userIDKeys...)
		if d, ok := details[id]; ok && id != "" {
			rec = rec.Merge(d)
			merged[id] = struct{}{}
		}
		row := NormalizeUser(rec, loc)

		if i, seen := position[id]; seen && id != "" {
			j.users[i] = row
		} else {
			position[id] = len(j.users)
			j.users = append(j.users, row)
		}
		if id != "" {
			j.index[id] = row
		}
	}

	for id, d := range details {
		if _, ok := merged[id]; ok || id == "" {
			continue
		}
		row := NormalizeUser(d, loc)
		if row.ID == "" {
			row.ID = id
		}
		j.index[id] = row
	}

	return j
}

// Users returns the normalized users collection in fetch order, one row per id
func (j *Joiner) Users() []domain.UserRow {
	return j.users
}

// Lookup returns the user with id
func (j *Joiner) Lookup(id string) (domain.UserRow, bool) {
	u, ok := j.index[id]
	return u, ok
}

// Payments normalizes payments and attaches a copy of each user's contact fields,
// or the unknown-user placeholder with empty contacts when the user is not indexed
func (j *Joiner) Payments(payments []domain.RawRecord) []domain.PaymentRow {
	rows := make([]domain.PaymentRow, 0, len(payments))
	for _, rec := range payments {
		row := NormalizePayment(rec, j.loc)

		if u, ok := j.index[row.UserID]; ok && row.UserID != "" {
			row.UserMatched = true
			row.UserName = u.Name
			row.UserEmail = u.Email
			row.UserPhone = u.Phone
			row.UserTariff = u.Tariff
			if row.UserName == "" {
				row.UserName = domain.UnknownUserName(row.UserID)
			}
		} else {
			row.UserName = domain.UnknownUserName(row.UserID)
		}
		rows = append(rows, row)
	}
	return rows
}

// EnrichmentIDs lists the user ids worth a detail lookup: ids referenced by
// payments but missing from users, then users lacking a name or email.
// Each id appears once.
func EnrichmentIDs(payments, users []domain.RawRecord) []string {
	known := make(map[string]struct{}, len(users))
	seen := make(map[string]struct{})
	var ids []string

	add := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	for _, u := range users {
		known[u.String(userIDKeys...)] = struct{}{}
	}
	for _, p := range payments {
		id := p.String(paymentUserKeys...)
		if _, ok := known[id]; !ok {
			add(id)
		}
	}
	for _, u := range users {
		if u.String(nameKeys...) == "" || u.String("email") == "" {
			add(u.String(userIDKeys...))
		}
	}
	return ids
}
