package checklist

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

// ServiceError carries a dotted operation code alongside the underlying cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew      = "checklist.service.new"
	opEnsureUser      = "checklist.ensure_user"
	opSaveResults     = "checklist.save_results"
	opSaveReview      = "checklist.save_review"
	opLoadSheet       = "checklist.load_sheet"
	opLoadResults     = "checklist.load_results"
	opListSummaries   = "checklist.list_summaries"
	opListTasks       = "checklist.list_tasks"
	opLoadChecklist   = "checklist.load_checklist"
	opAddItem         = "checklist.add_item"
	opApproveItem     = "checklist.approve_item"
	opRejectItem      = "checklist.reject_item"
	opListPending     = "checklist.list_pending"
	opAddNote         = "checklist.add_note"
	opLatestNote      = "checklist.latest_note"
	opAddMembership   = "checklist.add_membership"
	opListUserGroups  = "checklist.list_user_groups"
	opGroupLookup     = "checklist.group_lookup"
	opListUsers       = "checklist.list_users"
	opListGroups      = "checklist.list_groups"
	opListCategories  = "checklist.list_categories"
	opProvisionGroups = "checklist.provision_groups"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ServiceConfig describes the dependencies of the checklist service.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service owns all checklist persistence and reconciliation operations.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewService validates the configuration and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:     cfg.Database,
		clock:  clock,
		logger: logger,
	}, nil
}

func (s *Service) logError(operation, reason string, err error) {
	s.logger.Error("checklist operation failed",
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	)
}
