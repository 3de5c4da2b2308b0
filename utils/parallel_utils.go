package utils

import (
	"fmt"
	"sort"
)

// Envelope is one delivery from a single sender to a single receiver
type Envelope[T any] struct {
	From int
	Msgs []T
}

// MailBox moves messages between NP ranks. Each rank only touches its own
// post queue, the pattern per exchange round is:
//
//	for range messages {Post}; Deliver; barrier; Receive; barrier
type MailBox[T any] struct {
	NP           int
	MessageChans []chan Envelope[T] // One for each rank
	PostMsgQs    []map[int][]T      // One for each rank, key is target rank
	ReceiveMsgQs [][]Envelope[T]    // One for each rank
	MailFlag     []bool             // Rank has messages in its outbox
}

func NewMailBox[T any](NP int) *MailBox[T] {
	mb := &MailBox[T]{
		NP:           NP,
		MessageChans: make([]chan Envelope[T], NP),
		PostMsgQs:    make([]map[int][]T, NP),
		ReceiveMsgQs: make([][]Envelope[T], NP),
		MailFlag:     make([]bool, NP),
	}
	for n := 0; n < NP; n++ {
		mb.MessageChans[n] = make(chan Envelope[T], NP) // Worst case is all-to-all
		mb.PostMsgQs[n] = make(map[int][]T)
	}
	return mb
}

func (mb *MailBox[T]) PostMessage(myRank, targetRank int, msgs ...T) {
	if targetRank < 0 || targetRank > mb.NP-1 {
		panic(fmt.Sprintf("Target rank %d out of bounds", targetRank))
	}
	mb.PostMsgQs[myRank][targetRank] = append(mb.PostMsgQs[myRank][targetRank], msgs...)
	if !mb.MailFlag[myRank] {
		mb.MailFlag[myRank] = true
	}
}

// DeliverMyMessages hands the outbox over to the receivers, the sender starts
// the next round with an empty outbox
func (mb *MailBox[T]) DeliverMyMessages(myRank int) {
	if !mb.MailFlag[myRank] {
		return
	}
	for targetRank, msgs := range mb.PostMsgQs[myRank] {
		mb.MessageChans[targetRank] <- Envelope[T]{From: myRank, Msgs: msgs}
	}
	mb.PostMsgQs[myRank] = make(map[int][]T)
	mb.MailFlag[myRank] = false
}

// ReceiveMyMessages drains everything delivered so far, envelopes are kept
// in sender order
func (mb *MailBox[T]) ReceiveMyMessages(myRank int) {
	for {
		select {
		case env := <-mb.MessageChans[myRank]:
			mb.ReceiveMsgQs[myRank] = append(mb.ReceiveMsgQs[myRank], env)
		default:
			sort.SliceStable(mb.ReceiveMsgQs[myRank], func(i, j int) bool {
				return mb.ReceiveMsgQs[myRank][i].From < mb.ReceiveMsgQs[myRank][j].From
			})
			return
		}
	}
}

func (mb *MailBox[T]) Inbox(myRank int) []Envelope[T] {
	return mb.ReceiveMsgQs[myRank]
}

func (mb *MailBox[T]) ClearMyMessages(myRank int) {
	mb.ReceiveMsgQs[myRank] = nil
}

type PartitionMap struct {
	MaxIndex       int // MaxIndex is partitioned into ParallelDegree partitions
	ParallelDegree int
	Partitions     [][2]int // Beginning and end index of partitions
}

func NewPartitionMap(ParallelDegree, maxIndex int) (pm *PartitionMap) {
	pm = &PartitionMap{
		MaxIndex:       maxIndex,
		ParallelDegree: ParallelDegree,
		Partitions:     make([][2]int, ParallelDegree),
	}
	for n := 0; n < ParallelDegree; n++ {
		pm.Partitions[n] = pm.Split1D(n)
	}
	return
}

// Offsets returns the ParallelDegree+1 prefix sums of the bucket sizes
func (pm *PartitionMap) Offsets() (offsets []int) {
	offsets = make([]int, pm.ParallelDegree+1)
	for n := 0; n < pm.ParallelDegree; n++ {
		offsets[n] = pm.Partitions[n][0]
	}
	offsets[pm.ParallelDegree] = pm.MaxIndex
	return
}

func (pm *PartitionMap) GetBucket(kDim int) (bucketNum, min, max int) {
	_, bucketNum, min, max = pm.getBucketWithTryCount(kDim)
	return
}

func (pm *PartitionMap) getBucketWithTryCount(kDim int) (tryCount, bucketNum, min, max int) {
	if kDim < 0 || kDim >= pm.MaxIndex {
		return 0, -1, 0, 0
	}
	// Initial guess
	bucketNum = int(float64(pm.ParallelDegree*kDim) / float64(pm.MaxIndex))
	for !(pm.Partitions[bucketNum][0] <= kDim && pm.Partitions[bucketNum][1] > kDim) {
		if pm.Partitions[bucketNum][0] > kDim {
			bucketNum--
		} else {
			bucketNum++
		}
		if bucketNum == -1 || bucketNum == pm.ParallelDegree {
			return 0, -1, 0, 0
		}
		tryCount++
	}
	min, max = pm.Partitions[bucketNum][0], pm.Partitions[bucketNum][1]
	return
}

func (pm *PartitionMap) GetBucketRange(bucketNum int) (kMin, kMax int) {
	kMin, kMax = pm.Partitions[bucketNum][0], pm.Partitions[bucketNum][1]
	return
}

func (pm *PartitionMap) GetBucketDimension(bn int) (kMax int) {
	if bn == -1 {
		kMax = pm.MaxIndex
		return
	}
	var (
		k1, k2 = pm.GetBucketRange(bn)
	)
	kMax = k2 - k1
	return
}

func (pm *PartitionMap) Split1D(threadNum int) (bucket [2]int) {
	// This routine splits one dimension into pm.ParallelDegree pieces, with a maximum imbalance of one item
	var (
		Npart            = pm.MaxIndex / (pm.ParallelDegree)
		startAdd, endAdd int
		remainder        int
	)
	remainder = pm.MaxIndex % pm.ParallelDegree
	if remainder != 0 { // spread the remainder over the first chunks evenly
		if threadNum+1 > remainder {
			startAdd = remainder
			endAdd = 0
		} else {
			startAdd = threadNum
			endAdd = 1
		}
	}
	bucket[0] = threadNum*Npart + startAdd
	bucket[1] = bucket[0] + Npart + endAdd
	return
}

// FindOwner returns the bucket holding index k for arbitrary (non uniform)
// prefix sums, empty buckets are skipped
func FindOwner(offsets []int, k int) int {
	if k < 0 || len(offsets) < 2 || k >= offsets[len(offsets)-1] {
		return -1
	}
	// First offset strictly greater than k, the owner is the bucket before it
	return sort.Search(len(offsets), func(i int) bool { return offsets[i] > k }) - 1
}
