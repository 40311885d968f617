package usecase

// Notices sent to external users through their platform.
const (
	NoticeSuspended       = "Ви були заблоковані. Якщо вважаєте, що це помилка - зверніться на пошту unban@soulful.pp.ua для розблокування."
	NoticeGreeting        = "Привіт! Як ми можемо вам допомогти? Оператор незабаром відповість вам."
	NoticeNoPersonnel     = "Пробачте, зараз немає операторів онлайн 🥲. Ми зв'яжемося з вами найближчим часом. Поки що ви можете описати своє питання. Дякуємо за розуміння 🙏🏼."
	NoticeOperatorOffline = "Ой-йой! Здається, ваш оператор тимчасово втратив зв'язок. Він повернеться найближчим часом."
)

// NoticeShutdown is broadcast to operators before the relay stops.
const NoticeShutdown = "relay is restarting, reconnect shortly"
