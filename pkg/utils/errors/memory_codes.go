package errors

import "google.golang.org/grpc/codes"

// memoryd 服务代码: 20 (业务服务范围 20-79)
// 错误码格式: AABBCCC
// - AA: 20 (memoryd 服务)
// - BB: 类别代码
// - CCC: 序号
//
// This block replaces the teacher's RAG-document error codes with the eight
// classes SPEC_FULL.md §7 names for the memory service's own operations.

const (
	// ServiceMemory is for the conversation-memory service.
	ServiceMemory = 20
)

var (
	// ErrMemoryValidation covers malformed or out-of-range request fields
	// (VALIDATION).
	ErrMemoryValidation = Register(New(MakeCode(ServiceMemory, CategoryRequest, 1), 400, codes.InvalidArgument, "Invalid request parameters", "请求参数无效"))

	// ErrMemoryNotFound is returned when a conversation, memory unit or
	// project id does not resolve to a row (NOT_FOUND).
	ErrMemoryNotFound = Register(New(MakeCode(ServiceMemory, CategoryResource, 1), 404, codes.NotFound, "Resource not found", "资源未找到"))

	// ErrMemoryProviderUnavailable is returned when every configured model
	// provider (primary and fallback) failed or the circuit is open
	// (PROVIDER_UNAVAILABLE).
	ErrMemoryProviderUnavailable = Register(New(MakeCode(ServiceMemory, CategoryNetwork, 1), 503, codes.Unavailable, "Model provider unavailable", "模型供应商不可用"))

	// ErrMemoryStoreUnavailable is returned when the structured or vector
	// store cannot be reached (STORE_UNAVAILABLE).
	ErrMemoryStoreUnavailable = Register(New(MakeCode(ServiceMemory, CategoryNetwork, 2), 503, codes.Unavailable, "Backing store unavailable", "后端存储不可用"))

	// ErrMemoryConsistencyViolation is returned when the compensating write
	// across the structured and vector stores could not be reconciled
	// (CONSISTENCY_VIOLATION).
	ErrMemoryConsistencyViolation = Register(New(MakeCode(ServiceMemory, CategoryConflict, 1), 500, codes.DataLoss, "Dual-store consistency violation", "双存储一致性冲突"))

	// ErrMemoryPermissionDenied is returned when a cross-project operation
	// is rejected by the permission gate (PERMISSION_DENIED).
	ErrMemoryPermissionDenied = Register(New(MakeCode(ServiceMemory, CategoryPermission, 1), 403, codes.PermissionDenied, "Permission denied", "权限不足"))

	// ErrMemoryCancelled is returned when the caller's context was
	// cancelled before the operation completed (CANCELLED).
	ErrMemoryCancelled = Register(New(MakeCode(ServiceMemory, CategoryTimeout, 1), 499, codes.Canceled, "Request cancelled", "请求已取消"))

	// ErrMemoryDeadlineExceeded is returned when the operation's deadline
	// elapsed before completion (DEADLINE_EXCEEDED).
	ErrMemoryDeadlineExceeded = Register(New(MakeCode(ServiceMemory, CategoryTimeout, 2), 504, codes.DeadlineExceeded, "Deadline exceeded", "请求超时"))

	// ErrMemoryInternal covers anything else unexpected (INTERNAL).
	ErrMemoryInternal = Register(New(MakeCode(ServiceMemory, CategoryInternal, 1), 500, codes.Internal, "Internal error", "内部错误"))
)
