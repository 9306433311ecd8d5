package notify

// Reduce 只做计数归约，不触发任何外部调用。
// 约定：unread_count 为绝对值；new_notification 携带 count 时以其为准，否则 +1。
// 结果永不为负。
func Reduce(count int, evt Event) int {
	switch evt.Type {
	case EventUnreadCount:
		if evt.Count != nil {
			count = *evt.Count
		}
	case EventNewNotification:
		if evt.Count != nil {
			count = *evt.Count
		} else {
			count++
		}
	default:
		// 未知类型保持不变，便于服务端先行扩展
	}
	if count < 0 {
		return 0
	}
	return count
}
