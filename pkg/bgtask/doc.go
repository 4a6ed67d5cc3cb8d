/*
Package bgtask runs the asynchronous work of a volume, such as pushing a
backup, on a per-volume FIFO queue.

Each queue has one worker goroutine, so tasks of a volume run one at a time
and finish in submission order while queues of different volumes run in
parallel. Task numbers start at 1 and are never reused.

The visible queue keeps the most recently finished task at its head until the
next task finishes:

	submit 1, 2, 3      [1 running] [2] [3]
	1 finishes          [1 done] [2 running] [3]
	2 fails             [2 err] [3 running]
	3 finishes          [3 done]

A client polling the queue therefore always sees the outcome of the task it
is waiting for, including its error.
*/
package bgtask
