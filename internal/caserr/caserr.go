// Package caserr defines the error kinds the CAS engine surfaces to callers.
//
// Every kind is a sentinel wrapped with fmt.Errorf("...: %w", Kind) at the
// call site, matched with errors.Is. Most engine entry points wrap one of
// these kinds. Errors carrying none of them: metadata-store failures
// returned by CreateBucket, BucketExists, ListBuckets and ListObjects (and
// ListObjects' continuation-token decode error), and, from PutObject and
// UploadPart, block reservation failures and errors reading the input
// stream.
package caserr

import "errors"

var (
	// ErrNoSuchBucket is returned when an operation names a bucket that does not exist.
	ErrNoSuchBucket = errors.New("no such bucket")
	// ErrBucketAlreadyExists is returned by CreateBucket for a name already in use.
	ErrBucketAlreadyExists = errors.New("bucket already exists")
	// ErrNoSuchKey is returned when an object key has no current record.
	ErrNoSuchKey = errors.New("no such key")
	// ErrInvalidPart is returned when CompleteMultipart references a part that was never uploaded.
	ErrInvalidPart = errors.New("invalid part")
	// ErrInvalidPartOrder is returned when part numbers are not a strictly increasing, contiguous run from 1.
	ErrInvalidPartOrder = errors.New("invalid part order")
	// ErrMissingContentLength is returned when an operation requires a declared length and none was given.
	ErrMissingContentLength = errors.New("missing content length")
	// ErrInvalidArgument covers argument validation failures not otherwise classified.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrIO wraps a disk I/O failure encountered while reading or writing block files.
	ErrIO = errors.New("i/o error")
	// ErrMetadata wraps a KV-store failure (transaction, partition, or codec).
	ErrMetadata = errors.New("metadata error")
	// ErrCorrupt is returned when a required record or file is missing or fails to decode.
	ErrCorrupt = errors.New("corrupt record")
)
