package admin

import "errors"

var (
	errPolicyNotFound      = errors.New("policy not found")
	errGroupPolicyNotFound = errors.New("group policy not found")
	errPolicyIDRequired    = errors.New("id is required")
	errGroupNameRequired   = errors.New("group_name is required")
)
