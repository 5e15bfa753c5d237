package main

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/exampleorg/docrepo/pkg/apierr"
	"github.com/exampleorg/docrepo/pkg/org"
	"github.com/exampleorg/docrepo/pkg/session/registry"
)

type roleRequest struct {
	Role string `json:"role"`
}

func (s *Server) opAssumeRole(ctx context.Context, sess *registry.Session, o *org.Organization, body []byte) (any, error) {
	var req roleRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, apierr.New(apierr.BadRequest, "malformed request")
	}

	state, err := o.RoleState(req.Role)
	if err != nil {
		return nil, err
	}
	if state != org.RoleActive {
		return nil, apierr.New(apierr.RoleNotAssumed, "role is not active")
	}
	members, err := o.Members(req.Role)
	if err != nil {
		return nil, err
	}
	isMember := false
	for _, m := range members {
		if m == sess.Username {
			isMember = true
			break
		}
	}
	if !isMember {
		return nil, apierr.New(apierr.RoleNotAssumed, "subject is not a member of the requested role")
	}

	sess.AssumeRole(req.Role)
	return map[string]any{"assumed": req.Role}, nil
}

func (s *Server) opDropRole(ctx context.Context, sess *registry.Session, o *org.Organization, body []byte) (any, error) {
	var req roleRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, apierr.New(apierr.BadRequest, "malformed request")
	}
	sess.DropRole(req.Role)
	return map[string]any{"dropped": req.Role}, nil
}

func (s *Server) opListSessionRoles(ctx context.Context, sess *registry.Session, o *org.Organization, body []byte) (any, error) {
	return map[string]any{"roles": sess.AssumedRoles()}, nil
}

type subjectStateQuery struct {
	Username string `json:"username,omitempty"`
}

func (s *Server) opSubjectStates(ctx context.Context, sess *registry.Session, o *org.Organization, body []byte) (any, error) {
	var req subjectStateQuery
	_ = json.Unmarshal(body, &req)
	states, err := o.SubjectStates(req.Username)
	if err != nil {
		return nil, err
	}
	return map[string]any{"states": states}, nil
}

type newSubjectRequest struct {
	Username  string `json:"username"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	PublicKey string `json:"public_key"`
}

func (s *Server) opNewSubject(ctx context.Context, sess *registry.Session, o *org.Organization, body []byte) (any, error) {
	var req newSubjectRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, apierr.New(apierr.BadRequest, "malformed request")
	}
	if err := s.requirePermission(ctx, sess, o, org.PermSubjectNew); err != nil {
		return nil, err
	}
	if err := o.AddSubject(org.Subject{
		Username:     req.Username,
		Name:         req.Name,
		Email:        req.Email,
		PublicKeyPEM: []byte(req.PublicKey),
		State:        org.SubjectActive,
	}); err != nil {
		return nil, err
	}
	return map[string]any{"created": req.Username}, nil
}

type subjectStateUpdateRequest struct {
	Username string `json:"username"`
	State    string `json:"state"`
}

func (s *Server) opSetSubjectState(ctx context.Context, sess *registry.Session, o *org.Organization, body []byte) (any, error) {
	var req subjectStateUpdateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, apierr.New(apierr.BadRequest, "malformed request")
	}
	target := org.SubjectState(req.State)
	perm := org.PermSubjectUp
	if target == org.SubjectSuspended {
		perm = org.PermSubjectDown
	}
	if err := s.requirePermission(ctx, sess, o, perm); err != nil {
		return nil, err
	}
	if err := o.SetSubjectState(req.Username, target); err != nil {
		return nil, err
	}
	return map[string]any{"username": req.Username, "state": req.State}, nil
}

type newRoleRequest struct {
	Role string `json:"role"`
}

func (s *Server) opNewRole(ctx context.Context, sess *registry.Session, o *org.Organization, body []byte) (any, error) {
	var req newRoleRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, apierr.New(apierr.BadRequest, "malformed request")
	}
	if err := s.requirePermission(ctx, sess, o, org.PermRoleNew); err != nil {
		return nil, err
	}
	if err := o.CreateRole(req.Role); err != nil {
		return nil, err
	}
	return map[string]any{"created": req.Role}, nil
}

func (s *Server) opSuspendRole(ctx context.Context, sess *registry.Session, o *org.Organization, body []byte) (any, error) {
	var req roleRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, apierr.New(apierr.BadRequest, "malformed request")
	}
	if err := s.requirePermission(ctx, sess, o, org.PermRoleDown); err != nil {
		return nil, err
	}
	if err := o.SetRoleState(req.Role, org.RoleSuspended); err != nil {
		return nil, err
	}
	return map[string]any{"role": req.Role, "state": "suspended"}, nil
}

func (s *Server) opReactivateRole(ctx context.Context, sess *registry.Session, o *org.Organization, body []byte) (any, error) {
	var req roleRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, apierr.New(apierr.BadRequest, "malformed request")
	}
	if err := s.requirePermission(ctx, sess, o, org.PermRoleUp); err != nil {
		return nil, err
	}
	if err := o.SetRoleState(req.Role, org.RoleActive); err != nil {
		return nil, err
	}
	return map[string]any{"role": req.Role, "state": "active"}, nil
}

type rolePermissionRequest struct {
	Role       string `json:"role"`
	Permission string `json:"permission"`
}

func (s *Server) opAddRolePermission(ctx context.Context, sess *registry.Session, o *org.Organization, body []byte) (any, error) {
	var req rolePermissionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, apierr.New(apierr.BadRequest, "malformed request")
	}
	if err := s.requirePermission(ctx, sess, o, org.PermRoleMod); err != nil {
		return nil, err
	}
	if err := o.AddPermission(req.Role, org.Permission(req.Permission)); err != nil {
		return nil, err
	}
	return map[string]any{"role": req.Role, "permission": req.Permission}, nil
}

func (s *Server) opRemoveRolePermission(ctx context.Context, sess *registry.Session, o *org.Organization, body []byte) (any, error) {
	var req rolePermissionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, apierr.New(apierr.BadRequest, "malformed request")
	}
	if err := s.requirePermission(ctx, sess, o, org.PermRoleMod); err != nil {
		return nil, err
	}
	if err := o.RemovePermission(req.Role, org.Permission(req.Permission)); err != nil {
		return nil, err
	}
	return map[string]any{"role": req.Role, "permission": req.Permission}, nil
}

type roleSubjectRequest struct {
	Role     string `json:"role"`
	Username string `json:"username"`
}

func (s *Server) opAddRoleSubject(ctx context.Context, sess *registry.Session, o *org.Organization, body []byte) (any, error) {
	var req roleSubjectRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, apierr.New(apierr.BadRequest, "malformed request")
	}
	if err := s.requirePermission(ctx, sess, o, org.PermRoleMod); err != nil {
		return nil, err
	}
	if err := o.AddMember(req.Role, req.Username); err != nil {
		return nil, err
	}
	return map[string]any{"role": req.Role, "username": req.Username}, nil
}

func (s *Server) opRemoveRoleSubject(ctx context.Context, sess *registry.Session, o *org.Organization, body []byte) (any, error) {
	var req roleSubjectRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, apierr.New(apierr.BadRequest, "malformed request")
	}
	if err := s.requirePermission(ctx, sess, o, org.PermRoleMod); err != nil {
		return nil, err
	}
	if err := o.RemoveMember(req.Role, req.Username); err != nil {
		return nil, err
	}
	return map[string]any{"role": req.Role, "username": req.Username}, nil
}

func (s *Server) opRoleMembers(ctx context.Context, sess *registry.Session, o *org.Organization, body []byte) (any, error) {
	var req roleRequest
	_ = json.Unmarshal(body, &req)
	members, err := o.Members(req.Role)
	if err != nil {
		return nil, err
	}
	return map[string]any{"members": members}, nil
}

type subjectQuery struct {
	Username string `json:"username"`
}

func (s *Server) opSubjectRoles(ctx context.Context, sess *registry.Session, o *org.Organization, body []byte) (any, error) {
	var req subjectQuery
	_ = json.Unmarshal(body, &req)
	return map[string]any{"roles": o.SubjectRoles(req.Username)}, nil
}

func (s *Server) opRolePermissions(ctx context.Context, sess *registry.Session, o *org.Organization, body []byte) (any, error) {
	var req roleRequest
	_ = json.Unmarshal(body, &req)
	perms, err := o.RolePermissions(req.Role)
	if err != nil {
		return nil, err
	}
	return map[string]any{"permissions": perms}, nil
}

type permissionQuery struct {
	Permission string `json:"permission"`
}

func (s *Server) opPermissionRoles(ctx context.Context, sess *registry.Session, o *org.Organization, body []byte) (any, error) {
	var req permissionQuery
	_ = json.Unmarshal(body, &req)
	return map[string]any{"roles": o.RolesWithPermission(org.Permission(req.Permission))}, nil
}

type documentsQuery struct {
	Creator    string `json:"creator,omitempty"`
	DateFilter string `json:"date_filter,omitempty"`
	DateStr    string `json:"date_str,omitempty"`
}

func (s *Server) opListDocuments(ctx context.Context, sess *registry.Session, o *org.Organization, body []byte) (any, error) {
	var req documentsQuery
	_ = json.Unmarshal(body, &req)

	filter := org.DocumentFilter{Creator: req.Creator}
	if req.DateFilter != "" && req.DateStr != "" {
		ref, err := parseDateDDMMYYYY(req.DateStr)
		if err != nil {
			return nil, apierr.New(apierr.BadRequest, "date_str must be DD-MM-YYYY")
		}
		filter.DateFilter = org.DateFilter(req.DateFilter)
		filter.Date = ref
		filter.HasDate = true
	}
	return map[string]any{"documents": o.ListDocuments(filter)}, nil
}

type newDocumentRequest struct {
	EncryptionFile string `json:"encryption_file"`
	FileHandle     string `json:"file_handle"`
	Name           string `json:"name"`
	Key            string `json:"key"`
	Alg            string `json:"alg"`
}

func (s *Server) opNewDocument(ctx context.Context, sess *registry.Session, o *org.Organization, body []byte) (any, error) {
	var req newDocumentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, apierr.New(apierr.BadRequest, "malformed request")
	}
	if err := s.requirePermission(ctx, sess, o, org.PermDocNew); err != nil {
		return nil, err
	}

	ciphertext, err := base64.StdEncoding.DecodeString(req.EncryptionFile)
	if err != nil {
		return nil, apierr.New(apierr.BadRequest, "encryption_file must be base64")
	}
	key, err := hex.DecodeString(req.Key)
	if err != nil {
		return nil, apierr.New(apierr.BadRequest, "key must be hex")
	}

	firstRole, _ := sess.FirstAssumedRole()
	doc, err := o.IngestDocument(req.Name, sess.Username, req.FileHandle, key, req.Alg, firstRole, time.Now(), ciphertext, s.blobs)
	if err != nil {
		return nil, err
	}
	return map[string]any{"created": doc.Name}, nil
}

type documentNameRequest struct {
	DocumentName string `json:"document_name"`
}

func (s *Server) opDocumentMetadata(ctx context.Context, sess *registry.Session, o *org.Organization, body []byte) (any, error) {
	var req documentNameRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, apierr.New(apierr.BadRequest, "malformed request")
	}
	meta, err := o.Metadata(req.DocumentName)
	if err != nil {
		return nil, err
	}
	return meta, nil
}

func (s *Server) opDeleteDocument(ctx context.Context, sess *registry.Session, o *org.Organization, body []byte) (any, error) {
	var req documentNameRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, apierr.New(apierr.BadRequest, "malformed request")
	}
	meta, err := o.Metadata(req.DocumentName)
	if err != nil {
		return nil, err
	}
	if err := s.requireDocPermission(ctx, sess, o, org.PermDocDelete, &meta); err != nil {
		return nil, err
	}
	formerHandle, err := o.DeleteDocument(req.DocumentName, s.blobs)
	if err != nil {
		return nil, err
	}
	return map[string]any{"file_handle": formerHandle}, nil
}

type aclDocumentRequest struct {
	DocumentName string `json:"document_name"`
	Operation    string `json:"operation"`
	Role         string `json:"role"`
	Permission   string `json:"permission"`
}

func (s *Server) opACLDocument(ctx context.Context, sess *registry.Session, o *org.Organization, body []byte) (any, error) {
	var req aclDocumentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, apierr.New(apierr.BadRequest, "malformed request")
	}
	meta, err := o.Metadata(req.DocumentName)
	if err != nil {
		return nil, err
	}
	if err := s.requireDocPermission(ctx, sess, o, org.PermDocACL, &meta); err != nil {
		return nil, err
	}
	if err := o.ReplaceACL(req.DocumentName, org.ACLOp(req.Operation), req.Role, org.Permission(req.Permission)); err != nil {
		return nil, err
	}
	return map[string]any{"updated": req.DocumentName}, nil
}

// requirePermission authorizes an administrative (non-document-scoped)
// operation against the session's assumed roles.
func (s *Server) requirePermission(ctx context.Context, sess *registry.Session, o *org.Organization, perm org.Permission) error {
	return o.Authorize(ctx, s.policyEngine, org.SessionView{
		Subject:      sess.Username,
		AssumedRoles: sess.AssumedRoles(),
	}, perm, nil)
}

// requireDocPermission authorizes a document-scoped operation, additionally
// checking the document's ACL.
func (s *Server) requireDocPermission(ctx context.Context, sess *registry.Session, o *org.Organization, perm org.Permission, doc *org.Document) error {
	return o.Authorize(ctx, s.policyEngine, org.SessionView{
		Subject:      sess.Username,
		AssumedRoles: sess.AssumedRoles(),
	}, perm, doc)
}
