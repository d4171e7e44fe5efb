// Package dto 提供读接口的数据传输对象定义
package dto

import "net/http"

// BizError 业务错误
type BizError struct {
	Code       int    `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
}

// Error 实现 error 接口
func (e *BizError) Error() string {
	return e.Message
}

// WithMessage 返回带自定义消息的副本
func (e *BizError) WithMessage(msg string) *BizError {
	return &BizError{
		Code:       e.Code,
		Message:    msg,
		HTTPStatus: e.HTTPStatus,
	}
}

// 通用错误 (10xxx)
var (
	ErrInvalidParams     = &BizError{10003, "INVALID_PARAMS", http.StatusBadRequest}
	ErrInvalidAddress    = &BizError{10010, "INVALID_ADDRESS", http.StatusBadRequest}
	ErrInvalidCampaignID = &BizError{10011, "INVALID_CAMPAIGN_ID", http.StatusBadRequest}
)

// 资源错误 (20xxx)
var (
	ErrCampaignNotFound   = &BizError{20001, "CAMPAIGN_NOT_FOUND", http.StatusNotFound}
	ErrAccountNotFound    = &BizError{20002, "ACCOUNT_NOT_FOUND", http.StatusNotFound}
	ErrCheckpointNotFound = &BizError{20003, "CHECKPOINT_NOT_FOUND", http.StatusNotFound}
	ErrChainNotIndexed    = &BizError{20004, "CHAIN_NOT_INDEXED", http.StatusNotFound}
)

// 系统错误 (50xxx)
var (
	ErrInternalError = &BizError{50001, "INTERNAL_ERROR", http.StatusInternalServerError}
)
