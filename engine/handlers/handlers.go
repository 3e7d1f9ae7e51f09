// Package handlers implements the canonical pipeline handler steps (C5):
// extract, partition, summarize, gen_embeddings, save_embeddings, and the
// delete_* steps. Each is built as an orchestrator.Handler closed over its
// collaborators.
package handlers

import (
	"bytes"
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/microsoft/kernel-memory/engine/blobstore"
	"github.com/microsoft/kernel-memory/engine/decoders"
	"github.com/microsoft/kernel-memory/engine/domain"
	"github.com/microsoft/kernel-memory/engine/embedding"
	"github.com/microsoft/kernel-memory/engine/generation"
	"github.com/microsoft/kernel-memory/engine/vectorindex"
	"github.com/microsoft/kernel-memory/engine/writeengine"
)

// Deps bundles every collaborator the canonical handlers need. A nil
// Summarizer disables the summarize step (it is advisory).
type Deps struct {
	Decoders      *decoders.Registry
	Embedders     *embedding.Registry
	Summarizer    generation.Generator
	Blobs         blobstore.Store
	Write         *writeengine.Engine
	IndexIDs      []string
	MaxTokens     int
	OverlapTokens int
}

const (
	extractedFileSuffix = ".extracted.txt"
	partitionFileSuffix = ".partition"
	summaryFileSuffix   = ".summary.txt"
)

func blobName(fileName, suffix string) string { return fileName + suffix }

func partitionBlobName(fileName string, seq int) string {
	return fmt.Sprintf("%s%s.%d", fileName, partitionFileSuffix, seq)
}

// RecordID derives the deterministic vector record id for a partition, per
// a function of (index, document_id, partition_seq, generator_model)
// so re-ingestion overwrites instead of duplicating.
func RecordID(index, documentID string, partitionSeq int, generatorModel string) string {
	name := fmt.Sprintf("%s/%s/%d/%s", index, documentID, partitionSeq, generatorModel)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

// Extract dispatches each uploaded file on mime type and stores the
// decoded plain text as a blob alongside the original.
func Extract(deps Deps) orchestratorHandler {
	return func(ctx context.Context, _ string, p *domain.Pipeline) error {
		for i := range p.Files {
			f := &p.Files[i]
			content, err := deps.Decoders.Decode(f.Mime, bytes.NewReader(f.Bytes))
			if err != nil {
				return err
			}

			var text string
			for _, s := range content.Sections {
				text += s.Text + "\n\n"
			}

			name := blobName(f.Name, extractedFileSuffix)
			if err := deps.Blobs.Save(ctx, p.Index, p.DocumentID, name, []byte(text)); err != nil {
				return domain.NewError(domain.KindTransientIO, "save extracted text", err)
			}
			f.ArtifactType = domain.ArtifactText
			f.GeneratedFiles = append(f.GeneratedFiles, domain.GeneratedFile{
				ID:           name,
				ParentID:     f.Name,
				Name:         name,
				ArtifactType: domain.ArtifactText,
				Size:         len(text),
			})
		}
		return nil
	}
}

// Partition chunks each file's extracted text into token-bounded partitions
// with overlap, falling back through paragraph, sentence, clause, word, and
// rune boundaries as needed.
func Partition(deps Deps) orchestratorHandler {
	maxTokens := deps.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultPartitionTokens
	}
	overlap := deps.OverlapTokens
	if overlap <= 0 {
		overlap = DefaultPartitionOverlap
	}

	return func(ctx context.Context, _ string, p *domain.Pipeline) error {
		for i := range p.Files {
			f := &p.Files[i]
			extractedName := blobName(f.Name, extractedFileSuffix)
			raw, err := deps.Blobs.Load(ctx, p.Index, p.DocumentID, extractedName)
			if err != nil {
				return domain.NewError(domain.KindPermanentIO, "load extracted text", err)
			}

			var counter TokenCounter
			if gens := deps.Embedders.Generators(); len(gens) > 0 {
				g := gens[0]
				counter = g.CountTokens
			}

			parts := partitionText(string(raw), maxTokens, overlap, counter)
			for seq, part := range parts {
				name := partitionBlobName(f.Name, seq)
				if err := deps.Blobs.Save(ctx, p.Index, p.DocumentID, name, []byte(part)); err != nil {
					return domain.NewError(domain.KindTransientIO, "save partition", err)
				}
				f.GeneratedFiles = append(f.GeneratedFiles, domain.GeneratedFile{
					ID:           name,
					ParentID:     f.Name,
					Name:         name,
					ArtifactType: domain.ArtifactTextPartition,
					Size:         len(part),
				})
			}
			f.ArtifactType = domain.ArtifactTextPartition
		}
		return nil
	}
}

// Summarize asks the configured text generator for a summary of each file's
// extracted text, saves it as a blob beside that text and records it on the
// file as a synthetic_data generated file. No synthetic=summary tag is
// attached to the summary. A nil Summarizer makes this step a no-op (it is
// optional).
func Summarize(deps Deps) orchestratorHandler {
	return func(ctx context.Context, _ string, p *domain.Pipeline) error {
		if deps.Summarizer == nil {
			return nil
		}
		for i := range p.Files {
			f := &p.Files[i]
			raw, err := deps.Blobs.Load(ctx, p.Index, p.DocumentID, blobName(f.Name, extractedFileSuffix))
			if err != nil {
				return domain.NewError(domain.KindPermanentIO, "load extracted text for summary", err)
			}

			prompt := "Summarize the following document in a few sentences:\n\n" + string(raw)
			tokens, errs := deps.Summarizer.Generate(ctx, prompt, generation.Options{MaxTokens: 512})

			var summary bytes.Buffer
			for t := range tokens {
				summary.WriteString(t)
			}
			if err := <-errs; err != nil {
				return domain.NewError(domain.KindTransientIO, "generate summary", err)
			}

			name := blobName(f.Name, summaryFileSuffix)
			if err := deps.Blobs.Save(ctx, p.Index, p.DocumentID, name, summary.Bytes()); err != nil {
				return domain.NewError(domain.KindTransientIO, "save summary", err)
			}
			f.GeneratedFiles = append(f.GeneratedFiles, domain.GeneratedFile{
				ID:           name,
				ParentID:     f.Name,
				Name:         name,
				ArtifactType: domain.ArtifactSyntheticData,
				Size:         summary.Len(),
			})
		}
		return nil
	}
}

// GenEmbeddings fans each partition out to every configured embedding
// generator and stores the resulting vectors as blobs, one file per
// (partition, generator), so save_embeddings can load them back without
// recomputation.
func GenEmbeddings(deps Deps) orchestratorHandler {
	return func(ctx context.Context, _ string, p *domain.Pipeline) error {
		for i := range p.Files {
			f := &p.Files[i]
			for _, gen := range f.GeneratedFiles {
				if gen.ArtifactType != domain.ArtifactTextPartition {
					continue
				}
				raw, err := deps.Blobs.Load(ctx, p.Index, p.DocumentID, gen.Name)
				if err != nil {
					return domain.NewError(domain.KindPermanentIO, "load partition for embedding", err)
				}

				vectors, errs := deps.Embedders.EmbedAll(ctx, string(raw))
				if len(vectors) == 0 && len(errs) > 0 {
					for _, err := range errs {
						return domain.NewError(domain.KindTransientIO, "embed partition", err)
					}
				}

				for genName, vec := range vectors {
					encoded := encodeVector(vec)
					name := gen.Name + ".vec." + genName
					if err := deps.Blobs.Save(ctx, p.Index, p.DocumentID, name, encoded); err != nil {
						return domain.NewError(domain.KindTransientIO, "save embedding", err)
					}
					f.GeneratedFiles = append(f.GeneratedFiles, domain.GeneratedFile{
						ID:           name,
						ParentID:     gen.ID,
						Name:         name,
						ArtifactType: domain.ArtifactTextEmbeddingVector,
						Size:         len(encoded),
					})
				}
			}
		}
		return nil
	}
}

// SaveEmbeddings durably writes every partition plus its precomputed
// vectors through the write engine, once per configured vector
// index. The record id is deterministic (RecordID) so re-ingestion
// overwrites instead of duplicating.
func SaveEmbeddings(deps Deps) orchestratorHandler {
	return func(ctx context.Context, _ string, p *domain.Pipeline) error {
		for i := range p.Files {
			f := &p.Files[i]

			// GeneratedFiles preserves the append order Partition wrote
			// partitions in, so slice position IS the partition sequence.
			var partitionOrder []domain.GeneratedFile
			for _, gen := range f.GeneratedFiles {
				if gen.ArtifactType == domain.ArtifactTextPartition {
					partitionOrder = append(partitionOrder, gen)
				}
			}

			vectorsByPartition := map[string]map[string][]float32{}
			for _, gen := range f.GeneratedFiles {
				if gen.ArtifactType != domain.ArtifactTextEmbeddingVector {
					continue
				}
				raw, err := deps.Blobs.Load(ctx, p.Index, p.DocumentID, gen.Name)
				if err != nil {
					return domain.NewError(domain.KindPermanentIO, "load embedding vector", err)
				}
				vec, err := decodeVector(raw)
				if err != nil {
					return domain.NewError(domain.KindPermanentIO, "decode embedding vector", err)
				}
				generatorName := generatorNameFromVectorBlob(gen.Name)
				if vectorsByPartition[gen.ParentID] == nil {
					vectorsByPartition[gen.ParentID] = map[string][]float32{}
				}
				vectorsByPartition[gen.ParentID][generatorName] = vec
			}

			for seq, partition := range partitionOrder {
				raw, err := deps.Blobs.Load(ctx, p.Index, p.DocumentID, partition.Name)
				if err != nil {
					return domain.NewError(domain.KindPermanentIO, "load partition text", err)
				}
				vectors := vectorsByPartition[partition.ID]

				for generatorName, vec := range vectors {
					contentID := RecordID(p.Index, p.DocumentID, seq, generatorName)
					rec := domain.ContentRecord{
						ID:      contentID,
						Content: raw,
						Mime:    "text/plain",
						Title:   f.Name,
						Tags:    p.Tags,
					}
					// One generator's vector per record, targeted at that
					// generator's own "<collection>:<generator>" secondary
					// index so distinct generators never share a dispatch key.
					singleVec := map[string][]float32{generatorName: vec}
					qualifiedIDs := qualifyIndexIDs(deps.IndexIDs, generatorName)
					if _, err := deps.Write.Upsert(ctx, contentID, rec, singleVec, qualifiedIDs); err != nil {
						return domain.NewError(domain.KindTransientIO, "write engine upsert", err)
					}
				}
			}
		}
		return nil
	}
}

// qualifyIndexIDs folds generatorName into each configured collection id,
// matching the "<collection>:<generator>" key vectorindex.WriteEngineAdapter
// registers under, so a write engine step targets the one adapter that
// actually owns generatorName's vectors for that collection.
func qualifyIndexIDs(indexIDs []string, generatorName string) []string {
	out := make([]string, len(indexIDs))
	for i, id := range indexIDs {
		out[i] = id + ":" + generatorName
	}
	return out
}

// DeleteDocument removes every blob and every vector record belonging to a
// document; idempotent.
func DeleteDocument(deps Deps) orchestratorHandler {
	return func(ctx context.Context, _ string, p *domain.Pipeline) error {
		for i := range p.Files {
			f := &p.Files[i]
			seq := 0
			for _, gen := range f.GeneratedFiles {
				if gen.ArtifactType != domain.ArtifactTextPartition {
					continue
				}
				for _, idxID := range deps.IndexIDs {
					for _, gens := range deps.Embedders.Generators() {
						contentID := RecordID(p.Index, p.DocumentID, seq, gens.Name())
						qualifiedID := idxID + ":" + gens.Name()
						if _, err := deps.Write.Delete(ctx, contentID, []string{qualifiedID}); err != nil {
							return domain.NewError(domain.KindTransientIO, "write engine delete", err)
						}
					}
				}
				seq++
			}
		}
		if err := deps.Blobs.DeleteDocument(ctx, p.Index, p.DocumentID); err != nil {
			return domain.NewError(domain.KindTransientIO, "delete document blobs", err)
		}
		return nil
	}
}

// DeleteIndexFromVectorStores removes an entire index/collection from every
// configured vector index. The reserved default collection is a no-op per
// the vector index driver's own boundary (S6).
func DeleteIndexFromVectorStores(indexes []vectorindex.Index, collection string) error {
	for _, idx := range indexes {
		if err := idx.DeleteIndex(context.Background(), collection); err != nil {
			return domain.NewError(domain.KindTransientIO, "delete index "+collection, err)
		}
	}
	return nil
}

type orchestratorHandler = func(ctx context.Context, step string, p *domain.Pipeline) error
