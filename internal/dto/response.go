// Package dto HTTP 请求与响应结构
package dto

import (
	bizerr "github.com/chandrabosep/AVALOOT/pkg/errors"
)

// CodeSuccess 成功响应码
const CodeSuccess = "OK"

// Response 统一响应结构
type Response struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Data    interface{}       `json:"data,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// Pagination 分页信息
type Pagination struct {
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalPages int   `json:"total_pages"`
}

// PagedData 分页数据
type PagedData struct {
	Items      interface{} `json:"items"`
	Pagination *Pagination `json:"pagination"`
}

// NewSuccessResponse 创建成功响应
func NewSuccessResponse(data interface{}) *Response {
	return &Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	}
}

// NewErrorResponse 从业务错误创建响应, 链上错误消息原样返回
func NewErrorResponse(err *bizerr.Error) *Response {
	return &Response{
		Code:    err.Code,
		Message: err.Message,
		Details: err.Details,
	}
}

// NewPagedResponse 创建分页响应
func NewPagedResponse(items interface{}, total int64, page, pageSize int) *Response {
	totalPages := 0
	if pageSize > 0 {
		totalPages = int(total) / pageSize
		if int(total)%pageSize > 0 {
			totalPages++
		}
	}

	return &Response{
		Code:    CodeSuccess,
		Message: "success",
		Data: &PagedData{
			Items: items,
			Pagination: &Pagination{
				Total:      total,
				Page:       page,
				PageSize:   pageSize,
				TotalPages: totalPages,
			},
		},
	}
}

// RateLimitInfo 限流信息 (429 响应)
type RateLimitInfo struct {
	Limit      int    `json:"limit"`
	Window     string `json:"window"`
	RetryAfter int    `json:"retry_after"`
}

// NewRateLimitResponse 创建限流响应
func NewRateLimitResponse(limit int, window string, retryAfter int) *Response {
	return &Response{
		Code:    bizerr.ErrRateLimited.Code,
		Message: bizerr.ErrRateLimited.Message,
		Data: &RateLimitInfo{
			Limit:      limit,
			Window:     window,
			RetryAfter: retryAfter,
		},
	}
}
