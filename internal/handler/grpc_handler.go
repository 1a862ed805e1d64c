package handler

import (
	"context"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pesio-ai/be-wf-approvals/internal/domain"
	"github.com/pesio-ai/be-wf-approvals/internal/platform/logger"
	"github.com/pesio-ai/be-wf-approvals/internal/service"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "approval.v1.ApprovalService"

// ActorMetadataKey carries the authenticated user ID in gRPC metadata.
const ActorMetadataKey = "x-user-id"

// ApprovalServer is the gRPC surface of the approval engine. Messages are
// google.protobuf.Struct so clients need no generated stubs.
type ApprovalServer interface {
	CreateApproval(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ProcessApproval(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CancelApproval(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetApprovalDetail(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListPendingApprovals(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes ApprovalServer for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ApprovalServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateApproval", Handler: unaryHandler("CreateApproval", ApprovalServer.CreateApproval)},
		{MethodName: "ProcessApproval", Handler: unaryHandler("ProcessApproval", ApprovalServer.ProcessApproval)},
		{MethodName: "CancelApproval", Handler: unaryHandler("CancelApproval", ApprovalServer.CancelApproval)},
		{MethodName: "GetApprovalDetail", Handler: unaryHandler("GetApprovalDetail", ApprovalServer.GetApprovalDetail)},
		{MethodName: "ListPendingApprovals", Handler: unaryHandler("ListPendingApprovals", ApprovalServer.ListPendingApprovals)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "approval/v1/approval.proto",
}

type unaryMethod func(ApprovalServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(name string, call unaryMethod) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ApprovalServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(ApprovalServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// GRPCHandler implements ApprovalServer
type GRPCHandler struct {
	service *service.ApprovalService
	log     *logger.Logger
}

// NewGRPCHandler creates a new gRPC handler
func NewGRPCHandler(service *service.ApprovalService, log *logger.Logger) *GRPCHandler {
	return &GRPCHandler{
		service: service,
		log:     log.Component("grpc_handler"),
	}
}

// Register attaches the handler to s.
func (h *GRPCHandler) Register(s *grpc.Server) {
	s.RegisterService(&ServiceDesc, h)
}

// actorFromContext extracts the caller's user ID from incoming metadata.
func actorFromContext(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if v := md.Get(ActorMetadataKey); len(v) > 0 {
		return strings.TrimSpace(v[0])
	}
	return ""
}

// CreateApproval creates a document and its approval chain
func (h *GRPCHandler) CreateApproval(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	approverIDs, err := stringList(fields, "approver_ids")
	if err != nil {
		return nil, err
	}
	amount, err := optionalInt64(fields, "amount")
	if err != nil {
		return nil, err
	}

	id, err := h.service.CreateApproval(ctx, actorFromContext(ctx), service.CreateApprovalRequest{
		ProjectID:   optionalString(fields, "project_id"),
		Type:        domain.DocumentType(strings.ToUpper(fields["type"].GetStringValue())),
		Amount:      amount,
		Title:       fields["title"].GetStringValue(),
		Content:     fields["content"].GetStringValue(),
		ApproverIDs: approverIDs,
	})
	if err != nil {
		return nil, h.fail("CreateApproval", err)
	}
	return structpb.NewStruct(map[string]interface{}{"id": id})
}

// ProcessApproval approves or rejects the caller's line
func (h *GRPCHandler) ProcessApproval(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	err := h.service.ProcessApproval(ctx, actorFromContext(ctx), fields["document_id"].GetStringValue(),
		service.ProcessApprovalRequest{
			Decision: domain.Decision(strings.ToUpper(fields["decision"].GetStringValue())),
			Comment:  optionalString(fields, "comment"),
		})
	if err != nil {
		return nil, h.fail("ProcessApproval", err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{}}, nil
}

// CancelApproval withdraws a pending document
func (h *GRPCHandler) CancelApproval(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	documentID := req.GetFields()["document_id"].GetStringValue()
	if err := h.service.CancelApproval(ctx, actorFromContext(ctx), documentID); err != nil {
		return nil, h.fail("CancelApproval", err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{}}, nil
}

// GetApprovalDetail returns a document with its chain
func (h *GRPCHandler) GetApprovalDetail(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	documentID := req.GetFields()["document_id"].GetStringValue()
	detail, err := h.service.GetApprovalDetail(ctx, actorFromContext(ctx), documentID)
	if err != nil {
		return nil, h.fail("GetApprovalDetail", err)
	}

	lines := make([]interface{}, 0, len(detail.Lines))
	for _, l := range detail.Lines {
		line := map[string]interface{}{
			"id":          l.ID,
			"approver_id": l.ApproverID,
			"sequence":    l.Sequence,
			"status":      string(l.Status),
		}
		if l.ApprovedAt != nil {
			line["approved_at"] = l.ApprovedAt.Format(time.RFC3339)
		}
		if l.Comment != nil {
			line["comment"] = *l.Comment
		}
		lines = append(lines, line)
	}

	return structpb.NewStruct(map[string]interface{}{
		"document": documentToMap(detail.Document),
		"lines":    lines,
	})
}

// ListPendingApprovals returns documents awaiting the caller's decision
func (h *GRPCHandler) ListPendingApprovals(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	docs, err := h.service.ListPendingApprovals(ctx, actorFromContext(ctx))
	if err != nil {
		return nil, h.fail("ListPendingApprovals", err)
	}

	out := make([]interface{}, 0, len(docs))
	for _, d := range docs {
		out = append(out, documentToMap(d))
	}
	return structpb.NewStruct(map[string]interface{}{"documents": out})
}

func (h *GRPCHandler) fail(method string, err error) error {
	grpcErr := mapErrorToGRPC(err)
	if status.Code(grpcErr) == codes.Internal {
		h.log.Error().Err(err).Str("method", method).Msg("gRPC call failed")
	}
	return grpcErr
}

func documentToMap(d *domain.ApprovalDocument) map[string]interface{} {
	m := map[string]interface{}{
		"id":         d.ID,
		"drafter_id": d.DrafterID,
		"type":       string(d.Type),
		"title":      d.Title,
		"content":    d.Content,
		"status":     string(d.Status),
		"created_at": d.CreatedAt.Format(time.RFC3339),
	}
	if d.ProjectID != nil {
		m["project_id"] = *d.ProjectID
	}
	if d.Amount != nil {
		m["amount"] = *d.Amount
	}
	if d.CompletedAt != nil {
		m["completed_at"] = d.CompletedAt.Format(time.RFC3339)
	}
	return m
}

func optionalString(fields map[string]*structpb.Value, key string) *string {
	v, ok := fields[key]
	if !ok {
		return nil
	}
	if _, isNull := v.GetKind().(*structpb.Value_NullValue); isNull {
		return nil
	}
	s := v.GetStringValue()
	return &s
}

func optionalInt64(fields map[string]*structpb.Value, key string) (*int64, error) {
	v, ok := fields[key]
	if !ok {
		return nil, nil
	}
	switch kind := v.GetKind().(type) {
	case *structpb.Value_NullValue:
		return nil, nil
	case *structpb.Value_NumberValue:
		n := int64(kind.NumberValue)
		if float64(n) != kind.NumberValue {
			return nil, status.Errorf(codes.InvalidArgument, "%s must be an integer amount in minor units", key)
		}
		return &n, nil
	default:
		return nil, status.Errorf(codes.InvalidArgument, "%s must be a number", key)
	}
}

func stringList(fields map[string]*structpb.Value, key string) ([]string, error) {
	v, ok := fields[key]
	if !ok {
		return nil, nil
	}
	list := v.GetListValue()
	if list == nil {
		return nil, status.Errorf(codes.InvalidArgument, "%s must be a list of strings", key)
	}
	out := make([]string, 0, len(list.GetValues()))
	for _, item := range list.GetValues() {
		s, ok := item.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil, status.Errorf(codes.InvalidArgument, "%s must be a list of strings", key)
		}
		out = append(out, s.StringValue)
	}
	return out, nil
}
