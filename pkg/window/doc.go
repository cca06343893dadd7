// Package window implements windowed aggregation over a temporal stream. Every row of the stream
// carries a sync time and an other time; together they describe the start edge, the end edge, or the
// whole interval during which the row's payload is valid. A window stage keeps an aggregate per key
// and turns the continuously recomputed aggregate back into a stream of intervals.
//
// Windows come in five shapes, and the shape is decided once, when the stage is built:
//   * StartEdge - the input only opens intervals and never closes them; aggregates only grow.
//   * Tumbling - fixed, non overlapping windows; each window is emitted as one closed interval.
//   * Hopping - fixed windows that overlap; every row is folded into each window it falls in.
//   * Sliding - every row contributes for a fixed duration after it arrives, unless retracted sooner.
//   * PriorityQueue - rows keep the lifetime they came with; used when nothing else is known.
//
// A shape is implemented as a Windower: a single threaded state machine that is told how far time
// has reached and which rows arrived. The same Windower serves a plain stream, through Operator, and a
// partitioned stream, through PartitionedOperator, which keeps one Windower per partition and moves
// them all forward on every low watermark.
//
// Punctuations are never passed through blindly. A stage first reaches the punctuation's time, which
// emits everything that can no longer change, and then forwards the earliest time it may still emit
// at. For most shapes that is the punctuation itself; Tumbling and Hopping hold back to the start of
// the oldest window still open.
package window
