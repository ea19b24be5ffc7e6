package form

import "time"

// Status is the lifecycle state of an application form. Any status may move
// to any other; transitions are gated on the admin capability, not on a
// transition table.
type Status string

const (
	StatusPending  Status = "pending"
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusRejected Status = "rejected"
)

func ValidStatus(s Status) bool {
	switch s {
	case StatusPending, StatusActive, StatusInactive, StatusRejected:
		return true
	default:
		return false
	}
}

// AvailableStatuses lists every status a form can be moved to.
func AvailableStatuses() []Status {
	return []Status{StatusPending, StatusActive, StatusInactive, StatusRejected}
}

// Fields is the application data captured on a form: applicant identity,
// employment, policy, up to six covered persons, and the payment method.
// Every field is optional; the lifecycle engine treats them as an opaque
// column set and never interprets values.
type Fields struct {
	ApplicantName         *string    `db:"applicant_name"`
	DOB                   *time.Time `db:"dob"`
	Address               *string    `db:"address"`
	UnitApt               *string    `db:"unit_apt"`
	City                  *string    `db:"city"`
	State                 *string    `db:"state"`
	ZipCode               *string    `db:"zip_code"`
	Phone                 *string    `db:"phone"`
	Phone2                *string    `db:"phone2"`
	Email                 *string    `db:"email"`
	Gender                *string    `db:"gender"`
	SSN                   *string    `db:"ssn"`
	LegalStatus           *string    `db:"legal_status"`
	DocumentNumber        *string    `db:"document_number"`
	InsuranceCompany      *string    `db:"insurance_company"`
	InsurancePlan         *string    `db:"insurance_plan"`
	Subsidy               *float64   `db:"subsidy"`
	FinalCost             *float64   `db:"final_cost"`
	EmploymentType        *string    `db:"employment_type"`
	EmploymentCompanyName *string    `db:"employment_company_name"`
	WorkPhone             *string    `db:"work_phone"`
	Wages                 *float64   `db:"wages"`
	WagesFrequency        *string    `db:"wages_frequency"`

	PolicyNumber      *string  `db:"policy_number"`
	PolicyCategory    *string  `db:"policy_category"`
	PolicyAmount      *float64 `db:"policy_amount"`
	PolicyPaymentDay  *int     `db:"policy_payment_day"`
	PolicyBeneficiary *string  `db:"policy_beneficiary"`

	Person1Name           *string    `db:"person1_name"`
	Person1Relation       *string    `db:"person1_relation"`
	Person1IsApplicant    *bool      `db:"person1_is_applicant"`
	Person1LegalStatus    *string    `db:"person1_legal_status"`
	Person1DocumentNumber *string    `db:"person1_document_number"`
	Person1DOB            *time.Time `db:"person1_dob"`
	Person1CompanyName    *string    `db:"person1_company_name"`
	Person1SSN            *string    `db:"person1_ssn"`
	Person1Gender         *string    `db:"person1_gender"`
	Person1Wages          *float64   `db:"person1_wages"`
	Person1Frequency      *string    `db:"person1_frequency"`

	Person2Name           *string    `db:"person2_name"`
	Person2Relation       *string    `db:"person2_relation"`
	Person2IsApplicant    *bool      `db:"person2_is_applicant"`
	Person2LegalStatus    *string    `db:"person2_legal_status"`
	Person2DocumentNumber *string    `db:"person2_document_number"`
	Person2DOB            *time.Time `db:"person2_dob"`
	Person2CompanyName    *string    `db:"person2_company_name"`
	Person2SSN            *string    `db:"person2_ssn"`
	Person2Gender         *string    `db:"person2_gender"`
	Person2Wages          *float64   `db:"person2_wages"`
	Person2Frequency      *string    `db:"person2_frequency"`

	Person3Name           *string    `db:"person3_name"`
	Person3Relation       *string    `db:"person3_relation"`
	Person3IsApplicant    *bool      `db:"person3_is_applicant"`
	Person3LegalStatus    *string    `db:"person3_legal_status"`
	Person3DocumentNumber *string    `db:"person3_document_number"`
	Person3DOB            *time.Time `db:"person3_dob"`
	Person3CompanyName    *string    `db:"person3_company_name"`
	Person3SSN            *string    `db:"person3_ssn"`
	Person3Gender         *string    `db:"person3_gender"`
	Person3Wages          *float64   `db:"person3_wages"`
	Person3Frequency      *string    `db:"person3_frequency"`

	Person4Name           *string    `db:"person4_name"`
	Person4Relation       *string    `db:"person4_relation"`
	Person4IsApplicant    *bool      `db:"person4_is_applicant"`
	Person4LegalStatus    *string    `db:"person4_legal_status"`
	Person4DocumentNumber *string    `db:"person4_document_number"`
	Person4DOB            *time.Time `db:"person4_dob"`
	Person4CompanyName    *string    `db:"person4_company_name"`
	Person4SSN            *string    `db:"person4_ssn"`
	Person4Gender         *string    `db:"person4_gender"`
	Person4Wages          *float64   `db:"person4_wages"`
	Person4Frequency      *string    `db:"person4_frequency"`

	Person5Name           *string    `db:"person5_name"`
	Person5Relation       *string    `db:"person5_relation"`
	Person5IsApplicant    *bool      `db:"person5_is_applicant"`
	Person5LegalStatus    *string    `db:"person5_legal_status"`
	Person5DocumentNumber *string    `db:"person5_document_number"`
	Person5DOB            *time.Time `db:"person5_dob"`
	Person5CompanyName    *string    `db:"person5_company_name"`
	Person5SSN            *string    `db:"person5_ssn"`
	Person5Gender         *string    `db:"person5_gender"`
	Person5Wages          *float64   `db:"person5_wages"`
	Person5Frequency      *string    `db:"person5_frequency"`

	Person6Name           *string    `db:"person6_name"`
	Person6Relation       *string    `db:"person6_relation"`
	Person6IsApplicant    *bool      `db:"person6_is_applicant"`
	Person6LegalStatus    *string    `db:"person6_legal_status"`
	Person6DocumentNumber *string    `db:"person6_document_number"`
	Person6DOB            *time.Time `db:"person6_dob"`
	Person6CompanyName    *string    `db:"person6_company_name"`
	Person6SSN            *string    `db:"person6_ssn"`
	Person6Gender         *string    `db:"person6_gender"`
	Person6Wages          *float64   `db:"person6_wages"`
	Person6Frequency      *string    `db:"person6_frequency"`

	CardType       *string `db:"card_type"`
	CardNumber     *string `db:"card_number"`
	CardExpiration *string `db:"card_expiration"`
	CardCVV        *string `db:"card_cvv"`
	BankName       *string `db:"bank_name"`
	BankRouting    *string `db:"bank_routing"`
	BankAccount    *string `db:"bank_account"`
}

// Form mirrors the application_forms table.
type Form struct {
	ID        string `db:"id"`
	ClientID  string `db:"client_id"`
	AgentID   string `db:"agent_id"`
	AgentName string `db:"agent_name"`

	Fields

	Status        Status  `db:"status"`
	StatusComment *string `db:"status_comment"`

	Confirmed         bool       `db:"confirmed"`
	ConfirmedAt       *time.Time `db:"confirmed_at"`
	ConfirmationToken *string    `db:"confirmation_token"`
	TokenExpiresAt    *time.Time `db:"token_expires_at"`
	// ConfirmedToken retains the token the client accepted with, so a replayed
	// confirmation link can be told apart from an unknown one after the live
	// token has been invalidated.
	ConfirmedToken *string `db:"confirmed_token"`

	ReviewedBy      *string    `db:"reviewed_by"`
	ReviewedAt      *time.Time `db:"reviewed_at"`
	RejectionReason *string    `db:"rejection_reason"`
	RejectedAt      *time.Time `db:"rejected_at"`

	HasPendingChanges bool           `db:"has_pending_changes"`
	PendingChanges    map[string]any `db:"pending_changes"`
	PendingChangesAt  *time.Time     `db:"pending_changes_at"`
	PendingChangesBy  *string        `db:"pending_changes_by"`

	PdfPath *string `db:"pdf_path"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (f *Form) IsPending() bool { return f.Status == StatusPending }
func (f *Form) IsActive() bool  { return f.Status == StatusActive }

// HistoryAction enumerates the audited lifecycle events.
type HistoryAction string

const (
	ActionCreated         HistoryAction = "created"
	ActionStatusChanged   HistoryAction = "status_changed"
	ActionPendingProposed HistoryAction = "pending_changes_proposed"
	ActionPendingApproved HistoryAction = "pending_changes_approved"
	ActionPendingRejected HistoryAction = "pending_changes_rejected"
	ActionUpdated         HistoryAction = "updated"
)

// HistoryEntry is an immutable audit record owned by an application form.
// Entries are insert-only and cascade-deleted with the form.
type HistoryEntry struct {
	ID                int64          `db:"id"`
	ApplicationFormID string         `db:"application_form_id"`
	Action            HistoryAction  `db:"action"`
	UserID            *string        `db:"user_id"`
	Comment           *string        `db:"comment"`
	Metadata          map[string]any `db:"metadata"`
	OldStatus         *Status        `db:"old_status"`
	NewStatus         *Status        `db:"new_status"`
	CreatedAt         time.Time      `db:"created_at"`
}

// EditResult reports how a requested edit was handled: applied directly, or
// parked as a pending proposal awaiting admin review.
type EditResult struct {
	Form             Form
	RequiresApproval bool
}

// Filters narrows List results. Role scoping is applied by the service on
// top of these.
type Filters struct {
	ClientID string
	AgentID  string
	Status   Status
	Page     int
	PageSize int
}
