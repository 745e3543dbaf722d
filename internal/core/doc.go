// Package core provides the bulk-import reconciliation engine for the quiz bank.
//
// This package contains all import logic independent of any transport or
// storage backend. It is used by the HTTP server, the quizimport CLI, and
// tests without modification.
//
// # Pipeline
//
// An import flows strictly forward through five stages:
//
//  1. [Parse] turns a delimited or structured payload into [RawRow] values,
//     reporting malformed rows as [ParseError] without stopping.
//  2. [Validate] converts each row into a typed [Record] for its
//     [RecordSchema], or a [ValidationError] listing every violation.
//  3. [FetchExisting] reads the stored records for all natural keys in one
//     batched call, then [Reconcile] partitions the valid records into new
//     records and [ConflictItem] values.
//  4. [SetResolution] and [ApplyResolution] decide, per conflict, whether to
//     keep the stored record, replace it, or merge the two by the schema's
//     [MergePolicy].
//  5. [Applier.Apply] writes inserts and resolved upserts in fixed-size
//     batches, isolating item failures and reporting progress after each batch.
//
// # Record Schemas
//
// Record types are registered at init time using [Register]. Each
// [RecordSchema] declares its fields, column synonyms, natural key, merge
// policy, and the typed constructor that builds its records:
//
//	core.Register(&core.RecordSchema{
//	    Type:     "question",
//	    Table:    "questions",
//	    KeyField: "id",
//	    Fields: []core.FieldSpec{
//	        {Name: "id", Kind: core.FieldText, Required: true},
//	        {Name: "explanation", Kind: core.FieldText},
//	    },
//	    Merge:    core.MergePolicy{"explanation": core.PreferExistingIfNonEmpty},
//	    Assemble: assembleQuestion,
//	})
//
// # Sessions
//
// [Service] keeps analyzed imports as sessions so an operator can review
// conflicts and change resolutions before applying. Progress of a running
// apply is broadcast to subscribers via [Service.SubscribeProgress].
//
// # Error Handling
//
// Only a failed existing-record lookup aborts an import. Parse, validation,
// and write failures are collected into the result. Technical errors are
// mapped to coded user messages using [MapError].
package core
