// Copyright 2025 Certen Protocol
//
// finalize-upload: concatenates a multi-part upload's parts (staged by the
// admission API under a conventional object-store prefix), then admits the
// assembled item itself: signature check, item row insert, object-store
// put and a new-item enqueue. Unlike a single-shot upload it writes no
// filesystem backup and takes no in-flight claim.
//
// Payment handling for multi-part uploads is out of scope here — a
// multi-part session is assumed to have already been quoted and settled
// up front by the admission API before parts were accepted, the same way
// a single-shot upload settles before the body is streamed. This worker
// only performs the concatenate-then-admit step.

package pipeline

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/certen/bundler/pkg/database"
	"github.com/certen/bundler/pkg/objectstore"
	"github.com/certen/bundler/pkg/queue"
	"github.com/certen/bundler/pkg/wire"
)

func sha256Sum(b []byte) []byte {
	sum := sha256.Sum256(b)
	return sum[:]
}

type finalizeUploadPayload struct {
	UploadID string `json:"uploadId"`
}

// uploadPartsPrefix is the conventional object-store key namespace parts
// are staged under while a multi-part upload is in progress.
func uploadPartsPrefix(uploadID string) string {
	return "upload-parts/" + uploadID + "/"
}

func (p *Pipeline) handleFinalizeUpload(ctx context.Context, job *queue.Job) error {
	var payload finalizeUploadPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal finalize-upload payload: %w", err)
	}
	if p.store == nil || !p.store.IsEnabled() {
		return fmt.Errorf("finalize-upload %s requires an enabled object store", payload.UploadID)
	}

	prefix := uploadPartsPrefix(payload.UploadID)
	var keys []string
	cursor := ""
	for {
		page, err := p.store.ListByPrefix(ctx, prefix, cursor)
		if err != nil {
			return fmt.Errorf("list parts for upload %s: %w", payload.UploadID, err)
		}
		keys = append(keys, page.Keys...)
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	if len(keys) == 0 {
		return fmt.Errorf("upload %s has no staged parts", payload.UploadID)
	}
	sort.Strings(keys) // parts are keyed with a zero-padded index suffix

	var assembled bytes.Buffer
	for _, key := range keys {
		rc, err := p.store.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("read part %s for upload %s: %w", key, payload.UploadID, err)
		}
		_, err = io.Copy(&assembled, rc)
		rc.Close()
		if err != nil {
			return fmt.Errorf("drain part %s for upload %s: %w", key, payload.UploadID, err)
		}
	}

	header, err := wire.DecodeHeader(bytes.NewReader(assembled.Bytes()))
	if err != nil {
		return fmt.Errorf("decode header for assembled upload %s: %w", payload.UploadID, err)
	}
	itemID := wire.ComputeItemId(header)
	payloadBytes := assembled.Bytes()[header.PayloadDataStart:]
	digest := sha256Sum(payloadBytes)
	valid, err := wire.VerifySignature(header, digest)
	if err != nil {
		return fmt.Errorf("verify signature for assembled upload %s: %w", payload.UploadID, err)
	}
	if !valid {
		return fmt.Errorf("%w: assembled upload %s", wire.ErrSignatureInvalid, payload.UploadID)
	}

	height, err := p.chain.CurrentHeight(ctx)
	if err != nil {
		return fmt.Errorf("fetch current height for upload %s: %w", payload.UploadID, err)
	}

	contentType := tagValue(toItemTags(header.Tags), "Content-Type")
	tags := make([]database.ItemTag, len(header.Tags))
	for i, t := range header.Tags {
		tags[i] = database.ItemTag{Name: t.Name, Value: t.Value}
	}

	if err := p.items.InsertNewItem(ctx, &database.NewItem{
		ID:                 itemID,
		OwnerAddress:       wire.OwnerAddress(header),
		SignatureType:      header.SignatureType,
		ByteCount:          int64(assembled.Len()),
		PayloadContentType: contentType,
		PayloadDataStart:   header.PayloadDataStart,
		DeadlineHeight:      height + p.deadlineHeightIncrement,
		Tags:               tags,
		Signature:          header.Signature,
	}); err != nil {
		return fmt.Errorf("admit assembled upload %s: %w", payload.UploadID, err)
	}

	rawKey := objectstore.RawKey(itemID)
	if err := p.store.Put(ctx, rawKey, bytes.NewReader(assembled.Bytes()), contentType, header.PayloadDataStart); err != nil {
		return fmt.Errorf("store assembled upload %s: %w", payload.UploadID, err)
	}

	if _, err := p.broker.Enqueue(ctx, queue.LabelNewItem, map[string]string{"itemId": itemID}); err != nil {
		return fmt.Errorf("enqueue new-item for assembled upload %s: %w", payload.UploadID, err)
	}

	for _, key := range keys {
		if err := p.store.Delete(ctx, key); err != nil {
			p.logger.Printf("delete part %s for upload %s: %v", key, payload.UploadID, err)
		}
	}
	return nil
}
