package checklist

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// SheetStatus enumerates the lifecycle states of a check sheet.
type SheetStatus string

const (
	// SheetStatusChecking marks a sheet that is still being filled (voice flow).
	SheetStatusChecking SheetStatus = "checking"
	// SheetStatusReviewWaiting marks a sheet submitted and waiting for review.
	SheetStatusReviewWaiting SheetStatus = "review_waiting"
	// SheetStatusReturned marks a sheet sent back by the reviewer.
	SheetStatusReturned SheetStatus = "returned"
	// SheetStatusCompleted marks a sheet approved by the reviewer.
	SheetStatusCompleted SheetStatus = "completed"
)

// ItemStatus enumerates the approval lifecycle of a check item.
type ItemStatus string

const (
	// ItemStatusOpen means the item is presented to users filling a sheet.
	ItemStatusOpen ItemStatus = "open"
	// ItemStatusPending means the item awaits reviewer/admin approval.
	ItemStatusPending ItemStatus = "pending"
	// ItemStatusRejected means a proposed item was declined.
	ItemStatusRejected ItemStatus = "rejected"
	// ItemStatusClosed means the item was retired from active use.
	ItemStatusClosed ItemStatus = "closed"
)

// ResultType distinguishes the initial check pass from the reviewer pass.
type ResultType string

const (
	ResultTypeCheck  ResultType = "check"
	ResultTypeReview ResultType = "review"
)

// Role enumerates membership roles within a check group.
type Role string

const (
	RoleMember   Role = "member"
	RoleReviewer Role = "reviewer"
	RoleAdmin    Role = "admin"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("checklist: invalid user id")
	// ErrInvalidSheetID indicates that a sheet identifier is empty or exceeds storage bounds.
	ErrInvalidSheetID = errors.New("checklist: invalid sheet id")
	// ErrInvalidStatus indicates an unknown sheet status value.
	ErrInvalidStatus = errors.New("checklist: invalid sheet status")
	// ErrInvalidRole indicates an unknown membership role value.
	ErrInvalidRole = errors.New("checklist: invalid role")
)

// UserID represents a validated external user identifier (typically an email).
type UserID string

// AutoCheckUserID authors machine-generated result rows so reviewers can tell
// them apart from human submissions.
const AutoCheckUserID UserID = "auto_check"

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// SheetID represents a validated check sheet identifier. Sheet ids are
// timestamp derived (YYYYMMDD_HHMMSS) so lexical order matches creation order.
type SheetID string

// NewSheetID validates raw input and returns a SheetID.
func NewSheetID(rawInput string) (SheetID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidSheetID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidSheetID, maxIdentifierLength)
	}
	return SheetID(trimmed), nil
}

// String returns the underlying string identifier.
func (id SheetID) String() string {
	return string(id)
}

// MintSheetID derives a sortable sheet identifier from the provided time.
func MintSheetID(at time.Time) SheetID {
	return SheetID(at.Format("20060102_150405"))
}

// ParseSheetStatus validates a raw status value.
func ParseSheetStatus(value string) (SheetStatus, error) {
	switch SheetStatus(strings.ToLower(strings.TrimSpace(value))) {
	case SheetStatusChecking:
		return SheetStatusChecking, nil
	case SheetStatusReviewWaiting:
		return SheetStatusReviewWaiting, nil
	case SheetStatusReturned:
		return SheetStatusReturned, nil
	case SheetStatusCompleted:
		return SheetStatusCompleted, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, value)
	}
}

// ParseRole validates a raw membership role value.
func ParseRole(value string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(value))) {
	case RoleMember:
		return RoleMember, nil
	case RoleReviewer:
		return RoleReviewer, nil
	case RoleAdmin:
		return RoleAdmin, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, value)
	}
}

// User is a lazily created account keyed by its stable external identity.
type User struct {
	UserID    string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	UserName  string    `gorm:"column:user_name;size:255;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (User) TableName() string {
	return "users"
}

// Category groups check items for display.
type Category struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Name      string    `gorm:"column:name;size:50;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Category) TableName() string {
	return "categories"
}

// CheckGroup is a named collection of check items shared by a team.
type CheckGroup struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Name      string    `gorm:"column:name;size:50;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (CheckGroup) TableName() string {
	return "check_groups"
}

// UserCheckGroup ties a user to a group with a role and an optional
// designated reviewer. At most one row exists per (user, group).
type UserCheckGroup struct {
	ID           int64     `gorm:"column:id;primaryKey;autoIncrement"`
	UserID       string    `gorm:"column:user_id;size:190;not null;uniqueIndex:idx_membership_user_group,priority:1"`
	CheckGroupID int64     `gorm:"column:check_group_id;not null;uniqueIndex:idx_membership_user_group,priority:2"`
	ReviewerID   string    `gorm:"column:reviewer_id;size:190"`
	Role         Role      `gorm:"column:role;size:16;not null;default:member"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (UserCheckGroup) TableName() string {
	return "user_check_groups"
}

// CheckItem is one checklist criterion within a category and group.
type CheckItem struct {
	ID          int64      `gorm:"column:id;primaryKey;autoIncrement"`
	Name        string     `gorm:"column:name;size:100;not null"`
	Description string     `gorm:"column:description;type:text;not null"`
	Level       int        `gorm:"column:level;not null"`
	CategoryID  int64      `gorm:"column:category_id;index"`
	GroupID     int64      `gorm:"column:group_id;index"`
	Status      ItemStatus `gorm:"column:status;size:16;not null;default:open;index"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (CheckItem) TableName() string {
	return "check_items"
}

// CheckSheet is one filled instance of a group's checklist.
type CheckSheet struct {
	CheckSheetID  string      `gorm:"column:check_sheet_id;primaryKey;size:190;not null"`
	CheckStatus   SheetStatus `gorm:"column:check_status;size:32;not null"`
	CreatedBy     string      `gorm:"column:created_by;size:190;not null;index"`
	ReviewerID    string      `gorm:"column:reviewer_id;size:190;index"`
	CheckGroupID  int64       `gorm:"column:check_group_id;index"`
	CheckRemarks  string      `gorm:"column:check_remarks;type:text"`
	ReviewRemarks string      `gorm:"column:review_remarks;type:text"`
	CreatedAt     time.Time   `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time   `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (CheckSheet) TableName() string {
	return "check_sheets"
}

// CheckResult is the outcome for one item within one sheet, keyed by
// (sheet, item, type).
type CheckResult struct {
	CheckSheetID string     `gorm:"column:check_sheet_id;primaryKey;size:190;not null"`
	CheckID      int64      `gorm:"column:check_id;primaryKey"`
	CheckType    ResultType `gorm:"column:check_type;primaryKey;size:16;not null"`
	Checked      bool       `gorm:"column:checked;not null"`
	UserID       string     `gorm:"column:user_id;size:190;not null"`
	Remarks      string     `gorm:"column:remarks;type:text"`
	CreatedAt    time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (CheckResult) TableName() string {
	return "check_results"
}

// CheckItemNote is advisory text attached to an item by a user. Notes
// accumulate; only the newest per user and group is surfaced.
type CheckItemNote struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	UserID    string    `gorm:"column:user_id;size:190;not null;index"`
	CheckID   int64     `gorm:"column:check_id;not null;index"`
	NoteText  string    `gorm:"column:note_text;type:text;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (CheckItemNote) TableName() string {
	return "check_item_notes"
}

// ItemResult is the checked/remarks pair for one item, as handled by the
// reconciliation logic and the save paths.
type ItemResult struct {
	Checked bool
	Remarks string
}

// ResultSet maps a check item id to its result.
type ResultSet map[int64]ItemResult
